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
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yafengV/CrashParser/api/types"
	"github.com/yafengV/CrashParser/internal/config"
	"github.com/yafengV/CrashParser/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to listen on")
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringP("socket", "s", "", "Unix socket to listen on (default is $HOME/.config/crashsym/crashsym.sock)")
	serveCmd.Flags().StringSliceP("dsym", "d", []string{}, "Folder(s) to scan for .dSYM bundles and .xcarchives")
	serveCmd.Flags().String("reader", config.ReaderAtos, "Symbol reader to use (atos, macho)")
	serveCmd.Flags().Bool("debug", false, "Enable gin debug mode and request logging")
	serveCmd.MarkFlagDirname("dsym")
	viper.BindPFlag("daemon.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("daemon.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("daemon.socket", serveCmd.Flags().Lookup("socket"))
	viper.BindPFlag("daemon.debug", serveCmd.Flags().Lookup("debug"))
	viper.BindPFlag("serve.dsym", serveCmd.Flags().Lookup("dsym"))
	viper.BindPFlag("serve.reader", serveCmd.Flags().Lookup("reader"))
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the symbolication daemon",
	Example: heredoc.Doc(`
		# Serve on localhost:3993 with the dSYMs under a folder
		❯ crashsym serve --port 3993 --dsym ./dSYMs
		# Upload a crash report
		❯ curl -s --data-binary @MyApp.crash 'http://localhost:3993/v1/symbolicate?format=text'`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("dsym") {
			viper.Set("dsym.dirs", viper.GetStringSlice("serve.dsym"))
		}
		if cmd.Flags().Changed("reader") {
			viper.Set("symbolicate.reader", viper.GetString("serve.reader"))
		}

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		types.BuildVersion = AppVersion
		types.BuildTime = AppBuildTime

		dm := daemon.NewDaemon(conf)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		errc := make(chan error, 1)
		go func() {
			errc <- dm.Start()
		}()

		select {
		case err := <-errc:
			return err
		case <-quit:
			log.Warn("Exiting...")
			return dm.Stop()
		}
	},
}
