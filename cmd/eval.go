package cmd

import (
	"github.com/lehigh-university-libraries/birdid/internal/evalcmd"
	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	return evalcmd.NewCmd()
}
