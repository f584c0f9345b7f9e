/*
Copyright © 2024 crashsym authors

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yafengV/CrashParser/internal/colors"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("parse.json", parseCmd.Flags().Lookup("json"))
}

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse <CRASH>",
	Short: "Parse a crash report without symbolicating it",
	Example: heredoc.Doc(`
		# Print a .crash file
		❯ crashsym parse MyApp.crash
		# Dump every diagnostic of a MetricKit payload as JSON
		❯ crashsym parse --json payload.json`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := crashlog.ParseFile(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", args[0])
		}
		log.WithFields(log.Fields{
			"format":  reports[0].Format,
			"reports": len(reports),
		}).Debug("Parsed crash report")

		if viper.GetBool("parse.json") {
			var v any = reports
			if len(reports) == 1 {
				v = reports[0]
			}
			dat, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal crash report")
			}
			return colors.WriteJSON(os.Stdout, dat, colors.Enabled())
		}

		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			fmt.Print(r.String())
		}
		return nil
	},
}
