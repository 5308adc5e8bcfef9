// Command fornax boots a hosted Fornax kernel and offers a couple of
// operator-facing entry points into it, the userland counterpart to the
// boot sequence package kernel wires up.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kernel"
)

var frames int
var heapBytes int

var fornaxCmd = &cobra.Command{
	Use:   "fornax",
	Short: "Boot and inspect a hosted Fornax microkernel instance.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot a kernel instance and run until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		k := kernel.Boot(kernel.Config{Frames: frames, HeapBytes: heapBytes})
		fmt.Println("fornax: booted,", k.Sysinfo())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("fornax: shutting down")
		k.Shutdown()
	},
}

var sysinfoCmd = &cobra.Command{
	Use:   "sysinfo",
	Short: "Boot a kernel instance and print its sysinfo(2) summary.",
	Run: func(cmd *cobra.Command, args []string) {
		k := kernel.Boot(kernel.Config{Frames: frames, HeapBytes: heapBytes})
		defer k.Shutdown()
		fmt.Println(k.Sysinfo())
	},
}

var profileOut string

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Boot a kernel instance and write its process table as a pprof profile.",
	Run: func(cmd *cobra.Command, args []string) {
		k := kernel.Boot(kernel.Config{Frames: frames, HeapBytes: heapBytes})
		defer k.Shutdown()

		prof, err := k.Profile()
		if err != nil {
			fmt.Fprintln(os.Stderr, "fornax: profile:", err)
			os.Exit(1)
		}
		if err := os.WriteFile(profileOut, prof, 0644); err != nil {
			fmt.Fprintln(os.Stderr, "fornax: profile:", err)
			os.Exit(1)
		}
		fmt.Println("fornax: wrote", profileOut)
	},
}

func SetupCommands() *cobra.Command {
	fornaxCmd.PersistentFlags().IntVar(&frames, "frames", 0, "physical frame count (0 = default)")
	fornaxCmd.PersistentFlags().IntVar(&heapBytes, "heap-bytes", 0, "kernel heap size in bytes (0 = default)")
	profileCmd.Flags().StringVar(&profileOut, "out", "fornax.pprof", "output path for the pprof profile")

	fornaxCmd.AddCommand(bootCmd)
	fornaxCmd.AddCommand(sysinfoCmd)
	fornaxCmd.AddCommand(profileCmd)

	if err := fornaxCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return fornaxCmd
}

func main() {
	SetupCommands()
}
