package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/embeddings"
)

func newInitCmd() *cobra.Command {
	var (
		force bool
		dir   string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Install the ONNX runtime for local embeddings",
		Long: `Download the ONNX runtime library used by the fastembed embedding
provider. The library is installed to ~/.config/docqa/lib unless --dir is
given. When ONNX_PATH is set, that library is used instead.

Examples:
  # Install the runtime
  docqa init

  # Reinstall into a custom directory
  docqa init --force --dir /opt/docqa/lib`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			rt := embeddings.NewONNXRuntime(dir)
			if !force {
				if path := rt.LibraryPath(); path != "" {
					fmt.Fprintf(out, "ONNX runtime already installed at: %s\n", path)
					fmt.Fprintln(out, "Use --force to re-download.")
					return nil
				}
			}

			fmt.Fprintf(out, "Downloading ONNX runtime v%s...\n", rt.Version)
			path, err := rt.Install(cmd.Context())
			if err != nil {
				return fmt.Errorf("installing onnx runtime: %w", err)
			}
			fmt.Fprintf(out, "Installed ONNX runtime to: %s\n", path)
			if dir != "" {
				fmt.Fprintf(out, "Set embeddings.onnx_dir to %s or export ONNX_PATH=%s\n", dir, path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-download even if the runtime exists")
	cmd.Flags().StringVar(&dir, "dir", "", "install directory (default ~/.config/docqa/lib)")
	return cmd
}
