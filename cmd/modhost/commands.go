package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/archive"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/host"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/manifest"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

func newLoadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "load <package>...",
		Short: "Install packages and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.newStack()
			if err != nil {
				return err
			}
			defer s.close()

			for _, name := range args {
				if err := s.manager.LoadPackage(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ready in %s\n", name, s.layout.PackageDir(name))
			}
			return nil
		},
	}
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "run <package> [expression]",
		Short: "Require a package and evaluate an expression against it",
		Long: `Require a package, installing it if needed, bind its exports to pkg
and evaluate the expression. Without an expression the exports are printed.
With --file the script is read from a file and the package is only
required if the script does so itself.

Examples:
  modhost run add 'pkg.add(1, 2)'
  modhost run --file script.js`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && len(args) == 0 {
				return fmt.Errorf("requires a package or --file")
			}
			s, err := flags.newStack()
			if err != nil {
				return err
			}
			defer s.close()

			rt, err := s.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			var result *host.Result
			if file != "" {
				source, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				result, err = rt.Run(cmd.Context(), string(source))
				if err != nil {
					return err
				}
			} else {
				expr := ""
				if len(args) > 1 {
					expr = args[1]
				}
				result, err = rt.Eval(cmd.Context(), args[0], expr)
				if err != nil {
					return err
				}
			}
			return printValue(cmd, result.Value)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "run a script file instead of an expression")
	return cmd
}

// printValue prints strings raw and everything else as JSON.
func printValue(cmd *cobra.Command, v interface{}) error {
	if s, ok := v.(string); ok {
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%v\n", v)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evict installed packages the index has newer versions of",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.newStack()
			if err != nil {
				return err
			}
			defer s.close()

			records, err := s.manager.CheckVersions(cmd.Context(), force)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to check")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tLOCAL\tINDEX\tACTION")
			for _, r := range records {
				action := "keep"
				if r.Evicted {
					action = "evicted"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Package, r.LocalVersion, r.ServerVersion, action)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "check even if the last check is recent")
	return cmd
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.newStack()
			if err != nil {
				return err
			}
			defer s.close()

			packages, err := s.manager.Inventory()
			if err != nil {
				return err
			}
			if asJSON {
				data, err := sonic.Marshal(packages)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tVERSION\tFILES\tBYTES\tDEPENDENCIES")
			for _, p := range packages {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", p.Name, p.Version, p.Files, p.Bytes, strings.Join(p.Dependencies, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <key-file>",
		Short: "Create a package signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := envelope.GenerateKey()
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], envelope.EncodePrivateKey(key), 0600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d-bit key to %s\n", envelope.KeyBits, args[0])
			return nil
		},
	}
}

func newPackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <dir> <key-file> <out>",
		Short: "Zip a package directory and sign it into an envelope",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, keyFile, out := args[0], args[1], args[2]

			if _, err := manifest.Load(filepath.Join(dir, paths.ManifestName)); err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			pemBytes, err := os.ReadFile(keyFile)
			if err != nil {
				return err
			}
			key, err := envelope.ParsePrivateKey(pemBytes)
			if err != nil {
				return err
			}
			zipped, err := archive.Pack(dir)
			if err != nil {
				return err
			}
			data, err := envelope.Build(zipped, key)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check an envelope's signature and print its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			env, err := envelope.ParseAndVerify(data)
			if err != nil {
				return err
			}
			raw, err := archive.ReadFile(env.Archive, paths.ManifestName)
			if err != nil {
				return err
			}
			m, err := manifest.Parse(raw)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "signature\tvalid\n")
			fmt.Fprintf(w, "version\t%s\n", m.Version)
			fmt.Fprintf(w, "main\t%s\n", m.Main)
			fmt.Fprintf(w, "dependencies\t%s\n", strings.Join(m.DependencyNames(), ","))
			fmt.Fprintf(w, "digest\t%s\n", env.Digest())
			return w.Flush()
		},
	}
}
