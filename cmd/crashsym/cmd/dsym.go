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
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yafengV/CrashParser/internal/colors"
	symcmd "github.com/yafengV/CrashParser/internal/commands/symbolicate"
	"github.com/yafengV/CrashParser/pkg/dsym"
)

func init() {
	rootCmd.AddCommand(dsymCmd)

	dsymCmd.Flags().StringSliceP("archive", "a", []string{}, "Xcode .xcarchive(s) to index")
	dsymCmd.Flags().StringP("uuid", "u", "", "Only show the bundle for this UUID")
	dsymCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	dsymCmd.MarkFlagDirname("archive")
	viper.BindPFlag("dsym.ls.archives", dsymCmd.Flags().Lookup("archive"))
	viper.BindPFlag("dsym.ls.uuid", dsymCmd.Flags().Lookup("uuid"))
	viper.BindPFlag("dsym.ls.json", dsymCmd.Flags().Lookup("json"))
}

// dsymCmd represents the dsym command
var dsymCmd = &cobra.Command{
	Use:   "dsym [FOLDER]...",
	Short: "List the debug symbols found in folders and archives",
	Example: heredoc.Doc(`
		# List every dSYM UUID under the Xcode archives folder
		❯ crashsym dsym ~/Library/Developer/Xcode/Archives
		# Check whether a build UUID has symbols
		❯ crashsym dsym ./dSYMs --uuid 1a2b3c4d-5e6f-7a8b-9c0d-1e2f3a4b5c6d`),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		archives := viper.GetStringSlice("dsym.ls.archives")
		if len(args) == 0 && len(archives) == 0 {
			return fmt.Errorf("must supply a FOLDER or --archive")
		}

		idx, err := symcmd.BuildIndex(args, archives, nil)
		if err != nil {
			return errors.Wrap(err, "failed to index debug symbols")
		}

		bundles := idx.Bundles()
		if id := viper.GetString("dsym.ls.uuid"); id != "" {
			b, ok := idx.Lookup(id)
			if !ok {
				return fmt.Errorf("no debug symbols for UUID %s", id)
			}
			bundles = []dsym.Bundle{b}
		}

		if viper.GetBool("dsym.ls.json") {
			dat, err := json.MarshalIndent(bundles, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal bundles")
			}
			return colors.WriteJSON(os.Stdout, dat, colors.Enabled())
		}

		if len(bundles) == 0 {
			log.Warn("No debug symbols found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.DiscardEmptyColumns)
		for _, b := range bundles {
			size := "-"
			if fi, err := os.Stat(b.Path); err == nil {
				size = humanize.Bytes(uint64(fi.Size()))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", b.UUID, b.Arch, b.Name, size, b.Path)
		}
		w.Flush()
		log.Infof("Found %s UUIDs", humanize.Comma(int64(len(bundles))))
		return nil
	},
}
