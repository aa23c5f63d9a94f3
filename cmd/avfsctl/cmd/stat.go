package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	statCmd := &cobra.Command{
		Use:   "stat [path]",
		Short: "resolve a virtual path and print its attributes",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
	rootCmd.AddCommand(statCmd)
}

func runStat(cmd *cobra.Command, args []string) error {
	st, err := buildStack()
	if err != nil {
		return err
	}

	info, err := st.fs.Stat(args[0])
	if err != nil {
		return fmt.Errorf("avfsctl: stat %s: %w", args[0], err)
	}

	fmt.Printf("%s\n  size:  %d\n  mode:  %s\n  isDir: %v\n  mtime: %s\n",
		args[0], info.Size(), info.Mode(), info.IsDir(), info.ModTime())
	return nil
}
