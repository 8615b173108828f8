package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	gocachex "goFileCacheX/cache"
	"goFileCacheX/server"

	"github.com/spf13/cobra"
)

var clientCmd = &cobra.Command{
	Use:   "client [request]",
	Short: "Send requests to a running server",
	Long: `Send requests to a running server.

Without arguments the client prompts for the file name, the option and the
count option or upload path, sending one request per round until "exit".
With an argument it sends that single request line, for example:

  filecachex client report,read,words
  filecachex client report,store --upload ./report.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := server.Client{Addr: cfg.Server.Addr}
		timeout, _ := cmd.Flags().GetDuration("request-timeout")
		if len(args) == 1 {
			upload, _ := cmd.Flags().GetString("upload")
			return sendOnce(cmd.Context(), c, timeout, args[0], upload, cmd.OutOrStdout())
		}
		return prompt(cmd.Context(), c, timeout, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	clientCmd.Flags().String("addr", ":8080", "server address")
	clientCmd.Flags().String("upload", "", "file to send with a store or update request")
	clientCmd.Flags().Duration("request-timeout", 30*time.Second, "time limit for each request")
}

func do(ctx context.Context, c server.Client, timeout time.Duration, line string, payload []byte) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Do(ctx, line, payload)
}

func sendOnce(ctx context.Context, c server.Client, timeout time.Duration, line, upload string, out io.Writer) error {
	var payload []byte
	if server.NeedsPayload(line) {
		if upload == "" {
			return errors.New("store and update requests need --upload")
		}
		var err error
		if payload, err = os.ReadFile(upload); err != nil {
			return err
		}
	}
	resp, err := do(ctx, c, timeout, line, payload)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp)
	return nil
}

// prompt 交互式地逐个构造请求，输入结束或选择 exit 时返回
func prompt(ctx context.Context, c server.Client, timeout time.Duration, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	ask := func(question string) (string, bool) {
		fmt.Fprintln(out, question)
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	for {
		fileName, ok := ask("Enter text file name (without extension):")
		if !ok {
			return scanner.Err()
		}
		option, ok := ask("Enter option (store/get/read/totals/update/remove/exit):")
		if !ok {
			return scanner.Err()
		}

		line := fileName + "," + option
		var payload []byte
		switch gocachex.Option(option) {
		case gocachex.OptStore, gocachex.OptUpdate:
			path, ok := ask("Enter the file path to upload:")
			if !ok {
				return scanner.Err()
			}
			content, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintln(out, "File not found or invalid path.")
				continue
			}
			payload = content
		case gocachex.OptRemove, gocachex.OptTotals:
		case gocachex.OptExit:
			if _, err := do(ctx, c, timeout, line, nil); err != nil {
				return err
			}
			fmt.Fprintln(out, "Exit command sent to server. Terminating client.")
			return nil
		default:
			countOption, ok := ask("Enter count option (lines/words/characters):")
			if !ok {
				return scanner.Err()
			}
			line += "," + countOption
		}

		resp, err := do(ctx, c, timeout, line, payload)
		if err != nil {
			fmt.Fprintln(out, "Request failed:", err)
			continue
		}
		fmt.Fprintln(out, resp)
	}
}
