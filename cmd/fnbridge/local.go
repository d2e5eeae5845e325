package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/executor"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/resolver"
	"github.com/oriys/fnbridge/pkg/frame"
)

func resolveCmd() *cobra.Command {
	var (
		udfRef string
		wrap   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a function and print what it materialized to",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readUDF(udfRef)
			if err != nil {
				return err
			}
			udfCfg, err := domain.ParseUDFConfig([]byte(text))
			if err != nil {
				return err
			}
			udfCfg.WrapCallable = wrap

			res, err := resolver.New(udfCfg).Resolve(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Function: %s\n", res.Name)
			fmt.Fprintf(out, "  Strategy:    %s\n", res.Strategy)
			fmt.Fprintf(out, "  Kind:        %s\n", res.Kind())
			fmt.Fprintf(out, "  User params: %v\n", res.AcceptsUserParams())
			return nil
		},
	}

	cmd.Flags().StringVarP(&udfRef, "udf", "u", "", "UDF config file or inline JSON")
	cmd.Flags().BoolVar(&wrap, "wrap", true, "Wrap plain callables the way the eval adapters do")
	cmd.MarkFlagRequired("udf")

	return cmd
}

func evalCmd() *cobra.Command {
	var (
		udfRef     string
		resultType string
		table      bool
		types      string
	)

	cmd := &cobra.Command{
		Use:   "eval [json-args]",
		Short: "Evaluate a scalar or row function once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readUDF(udfRef)
			if err != nil {
				return err
			}
			var input any
			if len(args) == 1 {
				if input, err = decodeJSON(args[0]); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			enc := json.NewEncoder(cmd.OutOrStdout())
			opts := []executor.Option{executor.WithLogger(logging.NewLogger(cmd.ErrOrStderr()))}

			if table {
				f := executor.NewTableFn(opts...)
				collector := executor.RowCollectorFunc(func(row []any) error { return enc.Encode(row) })
				if err := f.Init(ctx, collector, text, splitList(types)); err != nil {
					return err
				}
				return f.Eval(ctx, input)
			}

			f := executor.NewScalarFn(opts...)
			if err := f.Init(ctx, text, resultType); err != nil {
				return err
			}
			result, err := f.Eval(ctx, input)
			if err != nil {
				return err
			}
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVarP(&udfRef, "udf", "u", "", "UDF config file or inline JSON")
	cmd.Flags().StringVarP(&resultType, "type", "t", "", "Result type of a scalar function (LONG, INT, DOUBLE, STRING, ...)")
	cmd.Flags().BoolVar(&table, "table", false, "Evaluate as a row function, printing one JSON row per line")
	cmd.Flags().StringVar(&types, "types", "", "Comma separated column types of a row function")
	cmd.MarkFlagRequired("udf")

	return cmd
}

func calcCmd() *cobra.Command {
	var (
		udfRef string
		inputs []string
		params string
		header bool
	)

	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Run a dataframe function over CSV inputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readUDF(udfRef)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("at least one --input is required")
			}

			names := make([][]string, len(inputs))
			contents := make([]string, len(inputs))
			for i, raw := range inputs {
				in, err := parseInput(raw)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(in.Path)
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				names[i] = in.Names
				contents[i] = string(data)
			}
			encoded, err := json.Marshal(names)
			if err != nil {
				return err
			}
			metadata := map[string]string{executor.MetaInputColNames: string(encoded)}
			if strings.TrimSpace(params) != "" {
				if !json.Valid([]byte(params)) {
					return fmt.Errorf("--params must be a JSON object")
				}
				metadata[executor.MetaUserParams] = params
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			f := executor.NewDataFrameFn(executor.WithLogger(logging.NewLogger(cmd.ErrOrStderr())))
			if err := f.Init(ctx, text); err != nil {
				return err
			}
			f.SetCollector(executor.FrameCollectorFunc(func(content, schema string) error {
				if !header {
					_, err := fmt.Fprintf(out, "# %s\n%s", schema, content)
					return err
				}
				parsed, err := frame.ParseSchema(schema)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "%s\n%s", strings.Join(parsed.Names(), ","), content)
				return err
			}))
			return f.Calc(ctx, metadata, contents)
		},
	}

	cmd.Flags().StringVarP(&udfRef, "udf", "u", "", "UDF config file or inline JSON")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Input frame as names=a,b:file.csv (repeatable)")
	cmd.Flags().StringVarP(&params, "params", "p", "", "User parameters as a JSON object")
	cmd.Flags().BoolVar(&header, "header", false, "Print a CSV header row instead of the schema line")
	cmd.MarkFlagRequired("udf")

	return cmd
}
