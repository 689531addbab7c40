package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/birbparty/taobao-top/sdk"
)

func (a *app) callCmd() *cobra.Command {
	var (
		raw     bool
		session string
	)

	cmd := &cobra.Command{
		Use:   "call <method> [key=value | key=@file]...",
		Short: "Call a remote method",
		Long: `Call a remote method and print its result as JSON.

The method may be qualified (taobao.item.get) or given in short form:
item_get calls taobao.item.get and tmall__item_get calls tmall.item.get.
A value starting with @ uploads the named file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, files, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			defer closeAll(files)
			if session != "" {
				params[sdk.FieldSession] = session
			}

			client, cleanup, err := a.newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			method := methodOf(args[0])
			resp, err := client.Invoke(cmd.Context(), method, params)
			if err != nil {
				if apiErr, ok := sdk.AsAPIError(err); ok {
					return fmt.Errorf("%s", apiErr.Verbose())
				}
				return err
			}

			var out interface{} = resp
			if !raw {
				out = resp.Result(method)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the whole response instead of the result section")
	cmd.Flags().StringVar(&session, "session", "", "access token for this call only")
	return cmd
}

func (a *app) timeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "time",
		Short: "Print the gateway clock and the local offset from it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := a.newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			server, err := client.ServerTime(cmd.Context(), time.Local)
			if err != nil {
				return err
			}
			skew := time.Since(server).Round(time.Second)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (local clock %+v)\n", server.Format(sdk.TimestampLayout), skew)
			return err
		},
	}
}

// methodOf accepts both qualified and short method names
func methodOf(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return sdk.MethodName(name)
}

// parseParams turns key=value arguments into parameters. Values starting
// with @ are opened as files; the caller closes them.
func parseParams(args []string) (sdk.Params, []io.Closer, error) {
	params := make(sdk.Params, len(args))
	var files []io.Closer

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			closeAll(files)
			return nil, nil, fmt.Errorf("invalid parameter %q: want key=value", arg)
		}
		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			f, err := sdk.OpenFile(path)
			if err != nil {
				closeAll(files)
				return nil, nil, err
			}
			files = append(files, f)
			params[key] = f
			continue
		}
		params[key] = value
	}
	return params, files, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
