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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringP("output", "o", "", "Folder to write one .crash file per report to")
	convertCmd.MarkFlagDirname("output")
	viper.BindPFlag("convert.output", convertCmd.Flags().Lookup("output"))
}

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert <PAYLOAD>",
	Short: "Convert a MetricKit payload to .crash text",
	Example: heredoc.Doc(`
		# Print every crash diagnostic of a payload as .crash text
		❯ crashsym convert payload.json
		# Write payload-0.crash, payload-1.crash, ... to a folder
		❯ crashsym convert payload.json -o ./crashes`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := crashlog.OpenMetricKit(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", args[0])
		}

		outDir := viper.GetString("convert.output")
		if outDir == "" {
			for i, r := range reports {
				if i > 0 {
					fmt.Fprintln(os.Stdout)
				}
				if err := crashlog.WriteLegacy(os.Stdout, r, crashlog.WriteOptions{}); err != nil {
					return err
				}
			}
			return nil
		}

		if err := os.MkdirAll(outDir, 0o750); err != nil {
			return errors.Wrap(err, "failed to create output folder")
		}
		base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		for i, r := range reports {
			fname := filepath.Join(outDir, fmt.Sprintf("%s-%d.crash", base, i))
			if err := writeCrash(fname, r); err != nil {
				return err
			}
			log.Infof("Created %s", fname)
		}
		return nil
	},
}

func writeCrash(fname string, r *crashlog.CrashReport) error {
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", fname)
	}
	defer f.Close()
	if err := crashlog.WriteLegacy(f, r, crashlog.WriteOptions{}); err != nil {
		return errors.Wrap(err, "failed to write crash report")
	}
	return nil
}
