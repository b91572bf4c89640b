package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kartikbazzad/bunbase/bunquery/internal/engine"
	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/store"
	"github.com/kartikbazzad/bunbase/bunquery/internal/table"
)

var queryCmd = &cobra.Command{
	Use:   "query [QUERY...]",
	Short: "Run queries and print the resulting tables",
	Long: `Run one or more queries against a store. Each argument is one target; a
target may hold several commands separated by newlines. With --file the
targets are read from files instead, one target per file ("-" reads stdin).`,
	Example: `  bunquery query --url redis://localhost:6379 "GET foo" "HGETALL user:1"
  bunquery query --file dashboard.rq --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		files, _ := cmd.Flags().GetStringSlice("file")
		texts, err := readTargets(args, files, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if len(texts) == 0 {
			return fmt.Errorf("no query given")
		}

		e, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		b := engine.Batch{Options: connOptions(cmd)}
		for _, text := range texts {
			b.Targets = append(b.Targets, query.Target{Text: text, Type: "table"})
		}
		tables, err := e.Query(context.Background(), b)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tables)
		}
		for i, t := range tables {
			if len(tables) > 1 {
				pterm.DefaultSection.Println(fmt.Sprintf("Target %d", i+1))
			}
			if err := renderTable(t); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	f := queryCmd.Flags()
	addConnFlags(f)
	f.StringSlice("file", nil, "Read a target from file (repeatable, - for stdin)")
	f.Bool("json", false, "Print the response JSON instead of tables")
}

func readTargets(args, files []string, stdin io.Reader) ([]string, error) {
	texts := append([]string(nil), args...)
	for _, name := range files {
		var data []byte
		var err error
		if name == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(name)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		texts = append(texts, string(data))
	}
	return texts, nil
}

// tableData converts t into rows of strings with the column names first.
// Null cells print empty.
func tableData(t table.Table) pterm.TableData {
	data := make(pterm.TableData, 0, len(t.Rows)+1)
	data = append(data, t.ColumnNames())
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		data = append(data, cells)
	}
	return data
}

func renderTable(t table.Table) error {
	if len(t.Columns) == 0 {
		pterm.Info.Println("(no rows)")
		return nil
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(tableData(t)).Render(); err != nil {
		return err
	}
	pterm.Println(pterm.FgGray.Sprintf("%d row(s)", len(t.Rows)))
	return nil
}

// connFlags are the connection options shared by query and ping.
var connFlags = []string{store.OptionURL, store.OptionUsername, store.OptionPassword, store.OptionDB}

func addConnFlags(f *pflag.FlagSet) {
	f.String(store.OptionURL, store.DefaultURL, "Store URL")
	f.String(store.OptionUsername, "", "Store username")
	f.String(store.OptionPassword, "", "Store password")
	f.String(store.OptionDB, "", "Store database number")
}

func connOptions(cmd *cobra.Command) query.Options {
	opts := query.Options{}
	for _, name := range connFlags {
		if v, _ := cmd.Flags().GetString(name); strings.TrimSpace(v) != "" {
			opts[name] = v
		}
	}
	return opts
}
