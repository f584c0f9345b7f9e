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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/caarlos0/ctrlc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/yafengV/CrashParser/internal/colors"
	symcmd "github.com/yafengV/CrashParser/internal/commands/symbolicate"
	"github.com/yafengV/CrashParser/internal/config"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(symbolicateCmd)

	symbolicateCmd.Flags().StringSliceP("dsym", "d", []string{}, "Folder(s) to scan for .dSYM bundles and .xcarchives")
	symbolicateCmd.Flags().StringSliceP("archive", "a", []string{}, "Xcode .xcarchive(s) holding the app and its dSYMs")
	symbolicateCmd.Flags().StringToString("map", map[string]string{}, "Explicit UUID=path debug symbol mapping")
	symbolicateCmd.Flags().String("reader", config.ReaderAtos, "Symbol reader to use (atos, macho)")
	symbolicateCmd.Flags().String("atos-path", "atos", "Path to the atos tool")
	symbolicateCmd.Flags().StringSlice("arch", []string{}, "Architectures to try when the report does not name one")
	symbolicateCmd.Flags().Duration("timeout", 30*time.Second, "Timeout per symbol reader call (0 disables)")
	symbolicateCmd.Flags().IntP("workers", "j", 4, "Number of reports to symbolicate in parallel")
	symbolicateCmd.Flags().Int("batch-size", 64, "Max addresses per symbol reader call")
	symbolicateCmd.Flags().Int("cache-size", 65536, "Max resolved addresses to cache per run")
	symbolicateCmd.Flags().Bool("refine-embedded", false, "Re-resolve frames that already carry a symbol")
	symbolicateCmd.Flags().Bool("demangle", true, "Demangle Swift and C++ symbol names")
	symbolicateCmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
	symbolicateCmd.Flags().StringP("output", "o", "", "Write output to file")
	symbolicateCmd.Flags().Bool("footer", true, "Append a symbolication summary to each text report")
	symbolicateCmd.Flags().Bool("progress", true, "Show a progress bar when stderr is a terminal")
	symbolicateCmd.MarkFlagDirname("dsym")
	symbolicateCmd.MarkFlagDirname("archive")
	symbolicateCmd.MarkFlagFilename("output")

	viper.BindPFlag("dsym.dirs", symbolicateCmd.Flags().Lookup("dsym"))
	viper.BindPFlag("dsym.archives", symbolicateCmd.Flags().Lookup("archive"))
	viper.BindPFlag("dsym.map", symbolicateCmd.Flags().Lookup("map"))
	viper.BindPFlag("symbolicate.reader", symbolicateCmd.Flags().Lookup("reader"))
	viper.BindPFlag("symbolicate.atos-path", symbolicateCmd.Flags().Lookup("atos-path"))
	viper.BindPFlag("symbolicate.archs", symbolicateCmd.Flags().Lookup("arch"))
	viper.BindPFlag("symbolicate.timeout", symbolicateCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("symbolicate.workers", symbolicateCmd.Flags().Lookup("workers"))
	viper.BindPFlag("symbolicate.batch-size", symbolicateCmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("symbolicate.cache-size", symbolicateCmd.Flags().Lookup("cache-size"))
	viper.BindPFlag("symbolicate.refine-embedded", symbolicateCmd.Flags().Lookup("refine-embedded"))
	viper.BindPFlag("symbolicate.demangle", symbolicateCmd.Flags().Lookup("demangle"))
	viper.BindPFlag("symbolicate.output.format", symbolicateCmd.Flags().Lookup("format"))
	viper.BindPFlag("symbolicate.output.file", symbolicateCmd.Flags().Lookup("output"))
	viper.BindPFlag("symbolicate.output.footer", symbolicateCmd.Flags().Lookup("footer"))
	viper.BindPFlag("symbolicate.output.progress", symbolicateCmd.Flags().Lookup("progress"))
}

// symbolicateCmd represents the symbolicate command
var symbolicateCmd = &cobra.Command{
	Use:     "symbolicate <CRASH>...",
	Aliases: []string{"sym"},
	Short:   "Symbolicate crash reports",
	Example: heredoc.Doc(`
		# Symbolicate a .crash file against the dSYMs under a folder
		❯ crashsym symbolicate --dsym ~/Library/Developer/Xcode/Archives MyApp.crash
		# Symbolicate a MetricKit payload with the symbols of an Xcode archive
		❯ crashsym symbolicate -a MyApp.xcarchive payload.json
		# Read the DWARF directly instead of calling atos and emit JSON
		❯ crashsym symbolicate --reader macho -d ./dSYMs --format json *.crash`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := viper.GetString("symbolicate.output.format")
		if format != "text" && format != "json" {
			return fmt.Errorf("invalid --format %q (want text or json)", format)
		}

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		idx, err := symcmd.BuildIndex(conf.DSYM.Dirs, conf.DSYM.Archives, conf.DSYM.Map)
		if err != nil {
			return errors.Wrap(err, "failed to index debug symbols")
		}
		if idx.Len() == 0 {
			log.Warn("no debug symbols found: frames will stay unresolved")
		} else {
			log.WithField("uuids", idx.Len()).Info("Indexed debug symbols")
		}

		reader, closer := symcmd.NewReader(conf)
		defer closer.Close()

		pconf := symcmd.NewConfig(conf)

		var p *mpb.Progress
		var bar *mpb.Bar
		if viper.GetBool("symbolicate.output.progress") && !Verbose && term.IsTerminal(int(os.Stderr.Fd())) {
			p = mpb.New(mpb.WithWidth(60), mpb.WithRefreshRate(180*time.Millisecond), mpb.WithOutput(os.Stderr))
			bar = p.New(int64(len(args)),
				mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
				mpb.PrependDecorators(
					decor.Name("symbolicating", decor.WC{W: len("symbolicating") + 1, C: decor.DindentRight}),
					decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ "),
				),
				mpb.AppendDecorators(
					decor.CountersNoUnit("%d/%d"),
					decor.Name(" ] "),
				),
			)
			pconf.OnReport = func(rr symcmd.ReportResult) {
				if rr.Index == 0 {
					bar.Increment()
				}
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var res *symcmd.Result
		done := make(chan struct{})
		if err := ctrlc.Default.Run(ctx, func() error {
			defer close(done)
			var rerr error
			res, rerr = symcmd.New(pconf, reader, idx).RunFiles(ctx, args)
			return rerr
		}); err != nil {
			if !errors.As(err, &ctrlc.ErrorCtrlC{}) {
				return errors.Wrap(err, "failed to symbolicate")
			}
			log.Warn("Exiting...")
			cancel()
			<-done
		}
		if bar != nil {
			bar.SetTotal(-1, true)
			p.Wait()
		}
		if res == nil {
			return nil
		}

		for _, e := range res.Errors {
			log.WithError(e.Err).WithField("input", e.Input).Error("failed to symbolicate")
		}

		out := io.Writer(os.Stdout)
		highlight := colors.Enabled()
		if path := viper.GetString("symbolicate.output.file"); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return errors.Wrap(err, "failed to create output folder")
			}
			f, err := os.Create(path)
			if err != nil {
				return errors.Wrap(err, "failed to create output file")
			}
			defer f.Close()
			out = f
			highlight = false
		}

		switch format {
		case "json":
			dat, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to encode results")
			}
			if err := colors.WriteJSON(out, dat, highlight); err != nil {
				return err
			}
		default:
			if err := symcmd.WriteText(out, res, viper.GetBool("symbolicate.output.footer")); err != nil {
				return errors.Wrap(err, "failed to write results")
			}
		}

		log.WithFields(log.Fields{
			"reports": len(res.Reports),
			"errors":  len(res.Errors),
		}).Info(res.Summary.String())

		if len(res.Reports) == 0 && len(res.Errors) > 0 {
			return fmt.Errorf("no crash report could be parsed")
		}
		return nil
	},
}
