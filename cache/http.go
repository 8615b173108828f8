package gocachex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// 默认的HTTP请求路径前缀
const defaultBasePath = "/_filecachex/"

// InspectHandler 以只读方式通过 HTTP 暴露缓存内容：
//
//	GET /_filecachex/                 缓存统计，structpb.Struct
//	GET /_filecachex/<file.txt>/<op>  缓存值，wrapperspb.StringValue
//
// 查询不会触发计算，也不会改变访问顺序。
type InspectHandler struct {
	basePath string
	cache    *BoundedCache
	logger   *log.Logger
}

// NewInspectHandler 创建 InspectHandler
func NewInspectHandler(cache *BoundedCache, logger *log.Logger) *InspectHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &InspectHandler{
		basePath: defaultBasePath,
		cache:    cache,
		logger:   logger.WithPrefix("inspect"),
	}
}

// BasePath 返回请求路径前缀
func (h *InspectHandler) BasePath() string {
	return h.basePath
}

// ServeHTTP 处理所有HTTP请求
func (h *InspectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, h.basePath) {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.logger.Debug("request", "method", r.Method, "path", r.URL.Path)

	rest := r.URL.Path[len(h.basePath):]
	if rest == "" {
		h.serveStats(w)
		return
	}

	// 解析请求路径：/<basepath>/<file>/<op>
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	key := CacheKey(parts[0], Option(parts[1]))
	value, ok := h.cache.Peek(key)
	if !ok {
		http.Error(w, "no cached value for "+key, http.StatusNotFound)
		return
	}

	body, err := proto.Marshal(wrapperspb.String(value))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeProto(w, body)
}

func (h *InspectHandler) serveStats(w http.ResponseWriter) {
	stats := h.cache.Stats()
	keys := h.cache.Keys()
	keyList := make([]any, len(keys))
	for i, k := range keys {
		keyList[i] = k
	}

	s, err := structpb.NewStruct(map[string]any{
		"size":          stats.Size,
		"capacity":      stats.Capacity,
		"policy":        stats.Policy,
		"hits":          stats.Hits,
		"misses":        stats.Misses,
		"evictions":     stats.Evictions,
		"invalidations": stats.Invalidations,
		"keys":          keyList,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body, err := proto.Marshal(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeProto(w, body)
}

func writeProto(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(body)
}

// Inspector 是 InspectHandler 的客户端
type Inspector struct {
	baseURL string // 例如 "http://localhost:9999/_filecachex/"
	client  *http.Client
}

// NewInspector 创建 Inspector，addr 形如 "http://localhost:9999"
func NewInspector(addr string) *Inspector {
	return &Inspector{
		baseURL: strings.TrimSuffix(addr, "/") + defaultBasePath,
		client:  http.DefaultClient,
	}
}

// Get 查询缓存值，ok 为 false 表示缓存中没有该 key
func (i *Inspector) Get(ctx context.Context, fileName string, op Option) (value string, ok bool, err error) {
	u := fmt.Sprintf("%v%v/%v", i.baseURL, url.PathEscape(fileName), url.PathEscape(string(op)))
	body, status, err := i.fetch(ctx, u)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}

	out := &wrapperspb.StringValue{}
	if err = proto.Unmarshal(body, out); err != nil {
		return "", false, fmt.Errorf("decoding response body: %w", err)
	}
	return out.GetValue(), true, nil
}

// Stats 查询缓存统计和按访问顺序排列的 key
func (i *Inspector) Stats(ctx context.Context) (Stats, []string, error) {
	body, status, err := i.fetch(ctx, i.baseURL)
	if err != nil {
		return Stats{}, nil, err
	}
	if status != http.StatusOK {
		return Stats{}, nil, fmt.Errorf("server returned: %d", status)
	}

	out := &structpb.Struct{}
	if err = proto.Unmarshal(body, out); err != nil {
		return Stats{}, nil, fmt.Errorf("decoding response body: %w", err)
	}

	f := out.GetFields()
	stats := Stats{
		Size:          int(f["size"].GetNumberValue()),
		Capacity:      int(f["capacity"].GetNumberValue()),
		Policy:        f["policy"].GetStringValue(),
		Hits:          int64(f["hits"].GetNumberValue()),
		Misses:        int64(f["misses"].GetNumberValue()),
		Evictions:     int64(f["evictions"].GetNumberValue()),
		Invalidations: int64(f["invalidations"].GetNumberValue()),
	}
	var keys []string
	for _, v := range f["keys"].GetListValue().GetValues() {
		keys = append(keys, v.GetStringValue())
	}
	return stats, keys, nil
}

func (i *Inspector) fetch(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	res, err := i.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNotFound {
		return nil, res.StatusCode, fmt.Errorf("server returned: %v", res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	return body, res.StatusCode, nil
}
