package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/auth"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/backup"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/catalog"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/config"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/domain"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

type options struct {
	catalogFile string
	maxToken    int
}

func (o *options) registry() (*catalog.Registry, error) {
	if o.catalogFile == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(o.catalogFile)
}

func (o *options) codec() (*backup.Codec, *catalog.Registry, error) {
	tools, err := o.registry()
	if err != nil {
		return nil, nil, err
	}
	return backup.NewCodec(tools, backup.WithMaxTokenLength(o.maxToken)), tools, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "backupctl",
		Short:        "Work with calculator backup links and files",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.catalogFile, "catalog", "", "tool catalog YAML (defaults to the built-in catalog)")
	root.PersistentFlags().IntVar(&opts.maxToken, "max-token-bytes", backup.DefaultMaxTokenLength, "largest token accepted by decode")

	root.AddCommand(
		newEncodeCmd(opts),
		newDecodeCmd(opts),
		newLinkCmd(),
		newToolsCmd(opts),
		newTokenCmd(),
	)
	return root
}

func newEncodeCmd(opts *options) *cobra.Command {
	var (
		toolID     string
		pairs      []string
		inputsJSON string
		result     string
		baseURL    string
		outFile    string
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a calculation into a share token or backup file",
		Example: `  backupctl encode --tool bmi-calculator --input weight=70 --input height=175 \
      --result "BMI: 22.86|Category: Normal weight" --base-url https://calcpro.example/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, _, err := opts.codec()
			if err != nil {
				return err
			}
			inputs, err := parseInputs(pairs, inputsJSON)
			if err != nil {
				return err
			}
			record, err := codec.NewRecord(toolID, inputs, result)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outFile != "" {
				data, err := codec.MarshalFile(record)
				if err != nil {
					return err
				}
				if outFile == "-" {
					_, err = out.Write(data)
					return err
				}
				if err := os.WriteFile(outFile, data, 0o644); err != nil {
					return err
				}
				goodColor.Fprintf(out, "wrote %s\n", outFile)
				return nil
			}

			token, err := codec.Encode(record)
			if err != nil {
				return err
			}
			if baseURL != "" {
				fmt.Fprintln(out, backup.Link(baseURL, token))
				return nil
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&toolID, "tool", "", "calculator slug")
	cmd.Flags().StringArrayVar(&pairs, "input", nil, "form input as name=value (repeatable)")
	cmd.Flags().StringVar(&inputsJSON, "inputs-json", "", "form inputs as a JSON object")
	cmd.Flags().StringVar(&result, "result", "", "result text shown to the user")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "print a full share link for this web client URL")
	cmd.Flags().StringVar(&outFile, "file", "", "write a backup file instead of a token (- for stdout)")
	_ = cmd.MarkFlagRequired("tool")
	return cmd
}

func newDecodeCmd(opts *options) *cobra.Command {
	var inFile string
	cmd := &cobra.Command{
		Use:   "decode [token-or-link]",
		Short: "Decode and validate a share token, share link or backup file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, tools, err := opts.codec()
			if err != nil {
				return err
			}

			var record backup.Record
			switch {
			case inFile != "":
				data, readErr := readInput(cmd.InOrStdin(), inFile)
				if readErr != nil {
					return readErr
				}
				record, err = codec.UnmarshalFile(data)
			case len(args) == 1:
				record, err = codec.Decode(backup.TokenFromLink(args[0]))
			default:
				return errors.New("pass a token, a link, or --file")
			}

			out := cmd.OutOrStdout()
			if err != nil {
				kind, _ := backup.KindOf(err)
				badColor.Fprintf(out, "%s\n", domain.UserMessage(err))
				labelColor.Fprint(out, "reason: ")
				fmt.Fprintf(out, "%s (%v)\n", kind, err)
				return err
			}

			tool, _ := tools.Lookup(record.ToolID)
			headerColor.Fprintf(out, "%s\n", tool.Name)
			pretty, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(pretty))
			return nil
		},
	}
	cmd.Flags().StringVar(&inFile, "file", "", "backup file to restore (- for stdin)")
	return cmd
}

func newLinkCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "link <token>",
		Short: "Build a share link from a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), backup.Link(baseURL, args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:5173/", "web client URL")
	return cmd
}

func newToolsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tools [query]",
		Short: "List calculators grouped by category",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tools, err := opts.registry()
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}

			out := cmd.OutOrStdout()
			groups := tools.Grouped(query)
			if len(groups) == 0 {
				fmt.Fprintf(out, "no calculators match %q\n", query)
				return nil
			}
			for _, group := range groups {
				headerColor.Fprintf(out, "%s\n", group.Category)
				for _, tool := range group.Tools {
					fmt.Fprintf(out, "  %-32s %s\n", tool.Slug, tool.Name)
				}
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator bearer token using JWT_SECRET and JWT_ISSUER",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.Sign(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeFeedbackRead}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func parseInputs(pairs []string, raw string) (map[string]any, error) {
	inputs := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
			return nil, fmt.Errorf("--inputs-json: %w", err)
		}
		// JSON null clears the map.
		if inputs == nil {
			inputs = map[string]any{}
		}
	}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("--input %q: want name=value", pair)
		}
		inputs[strings.TrimSpace(name)] = value
	}
	return inputs, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
