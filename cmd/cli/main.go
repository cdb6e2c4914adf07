package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	cobra.CheckErr(newRootCommand(os.Stdin, os.Stdout).Execute())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	var apiBase, apiKey string
	c := func() *client { return newClient(apiBase, apiKey) }

	root := &cobra.Command{
		Use:          "proxycheck",
		Short:        "Manage monitored HTTP servers and forward proxies",
		SilenceUsage: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.PersistentFlags().StringVar(&apiBase, "api", envOr("API_BASE", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&apiKey, "key", os.Getenv("API_KEY"), "API key (X-API-Key)")

	root.AddCommand(
		newAddCommand(c),
		newListCommand(c),
		newStatusCommand(c),
		newDeleteCommand(c),
		newCheckCommand(c),
	)
	return root
}

type targetFlags struct {
	name, kind, host, scheme, path, testURL string
	port, interval                          int
}

func (f *targetFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.kind, "type", "", "http (nginx) or proxy (squid)")
	cmd.Flags().StringVar(&f.host, "host", "", "host name or IP")
	cmd.Flags().IntVar(&f.port, "port", 0, "port (default 80 for http, 3128 for proxy)")
	cmd.Flags().StringVar(&f.scheme, "scheme", "", "http or https")
	cmd.Flags().StringVar(&f.path, "path", "", "request path for http targets")
	cmd.Flags().StringVar(&f.testURL, "test-url", "", "URL fetched through a proxy target")
	cmd.Flags().IntVar(&f.interval, "interval", 0, "seconds between probes (default 60)")
}

func (f *targetFlags) payload() map[string]any {
	return map[string]any{
		"name": f.name, "type": f.kind, "host": f.host, "port": f.port,
		"scheme": f.scheme, "path": f.path, "test_url": f.testURL, "interval": f.interval,
	}
}

func newAddCommand(c func() *client) *cobra.Command {
	var f targetFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a target; prompts for type and host when not given",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			if f.kind == "" {
				f.kind = prompt(cmd, reader, "Target type (http/proxy): ")
			}
			if f.host == "" {
				f.host = prompt(cmd, reader, "Host (e.g., 10.0.0.5): ")
			}
			if f.host == "" {
				return fmt.Errorf("host is required")
			}

			var t map[string]any
			if err := c().do(cmd.Context(), http.MethodPost, "/api/targets", f.payload(), &t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added target %v (%v %v:%v). Check GET /api/targets/%v/status.\n",
				t["id"], t["type"], t["host"], t["port"], t["id"])
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func prompt(cmd *cobra.Command, r *bufio.Reader, label string) string {
	fmt.Fprint(cmd.OutOrStdout(), label)
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}

func newListCommand(c func() *client) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/targets"
			switch kind {
			case "":
			case "http", "nginx":
				path = "/api/http"
			case "proxy", "squid":
				path = "/api/proxy"
			default:
				return fmt.Errorf("unknown target type: %s", kind)
			}
			var ts []map[string]any
			if err := c().do(cmd.Context(), http.MethodGet, path, nil, &ts); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, t := range ts {
				fmt.Fprintf(w, "%v\t%v\t%v:%v\tevery %vs\t%v\n", t["id"], t["type"], t["host"], t["port"], t["interval"], t["name"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "only list targets of this type")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad target id %q", s)
	}
	return id, nil
}

func newStatusCommand(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the latest result and recent history of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var st json.RawMessage
			if err := c().do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/targets/%d/status", id), nil, &st); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newDeleteCommand(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a target and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c().do(cmd.Context(), http.MethodDelete, fmt.Sprintf("/api/targets/%d", id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted target %d.\n", id)
			return nil
		},
	}
}

func newCheckCommand(c func() *client) *cobra.Command {
	var f targetFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one probe now without registering the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res json.RawMessage
			if err := c().do(cmd.Context(), http.MethodPost, "/api/check", f.payload(), &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
