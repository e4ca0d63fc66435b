package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Pablu23/Sertp/internal/session"
)

var (
	options = session.NewDefaultOptions()
	timeout int
)

var rootCmd = &cobra.Command{
	Use:   "sertp <port> <rx|tx> [file]",
	Short: "Transfer a single file over a serial line",
	Long: `
	Opens the serial port (or tcp://host:port) and either receives a file (rx)
	or transmits the given file (tx). The receiver writes the file into the
	output directory (-o) under its original name followed by the suffix.`,
	Args:          cobra.RangeArgs(2, 3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := session.ParseRole(args[1])
		if err != nil {
			return err
		}

		options.Port = args[0]
		options.Role = role
		options.Timeout = time.Duration(timeout) * time.Second
		if len(args) == 3 {
			options.FilePath = args[2]
		}

		s, err := session.New(func(o *session.Options) {
			*o = *options
		})
		if err != nil {
			return err
		}

		summary, err := s.Run()
		if err != nil {
			return err
		}

		fmt.Printf("%v: %v bytes in %v packets, blake2b %v\n",
			summary.FileName, summary.Bytes, summary.Packets, summary.DigestString())
		return nil
	},
}

func init() {
	rootCmd.Flags().IntVarP(&options.BaudRate, "baud", "b", options.BaudRate, "baud rate of the serial port")
	rootCmd.Flags().IntVarP(&options.Retransmissions, "retries", "r", options.Retransmissions, "retransmissions per frame before giving up")
	rootCmd.Flags().IntVarP(&timeout, "timeout", "t", int(options.Timeout/time.Second), "seconds to wait for an acknowledge")
	rootCmd.Flags().StringVarP(&options.OutputDir, "out-dir", "o", options.OutputDir, "directory received files are written to")
	rootCmd.Flags().StringVar(&options.OutputSuffix, "suffix", options.OutputSuffix, "appended to the name of received files")
	rootCmd.Flags().BoolVarP(&options.Verbose, "verbose", "v", false, "log every packet")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("Transfer failed")
		os.Exit(1)
	}
}
