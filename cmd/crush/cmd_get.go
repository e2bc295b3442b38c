package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"contentcrush/cmd/internal/app"

	"github.com/spf13/cobra"
)

var flagFresh bool

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Read an /api path through the query cache",
	Long: `Fetches a backend resource and prints the JSON body. Responses are
cached per collection and invalidated by realtime update events; --fresh
drops the cached entry first.

Examples:
  crush get /api/tasks
  crush get "/api/tasks?status=open"
  crush get /api/projects/42 --fresh`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		if flagFresh {
			key, err := app.CacheKey(path)
			if err != nil {
				return err
			}
			runtime.Cache().Invalidate(key)
		}

		body, err := runtime.GetCached(cmd.Context(), path)
		if err != nil {
			return err
		}

		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "  ") != nil {
			// Not JSON after all; print as-is.
			fmt.Println(string(body))
			return nil
		}
		_, err = pretty.WriteTo(os.Stdout)
		fmt.Println()
		return err
	},
}

func init() {
	getCmd.Flags().BoolVar(&flagFresh, "fresh", false, "bypass the cached entry")
}
