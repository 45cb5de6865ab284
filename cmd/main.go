package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coderobe/dmcache-recovery-experiments/cmd/cmd"
	"github.com/coderobe/dmcache-recovery-experiments/internal/env"
	"github.com/coderobe/dmcache-recovery-experiments/internal/search"
)

func main() {
	PrintBanner()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	if err == nil {
		return
	}
	// A completed search without a confident geometry is distinct from
	// an I/O or usage failure.
	if errors.Is(err, search.ErrNoConfidentMatch) {
		os.Exit(2)
	}
	os.Exit(1)
}

func PrintBanner() {
	fmt.Println("                 _")
	fmt.Println("  ___ __ _  ___| |__   ___  __ _ _   _  ___  ___ ___")
	fmt.Println(" / __/ _` |/ __| '_ \\ / _ \\/ _` | | | |/ _ \\/ __/ __|")
	fmt.Println("| (_| (_| | (__| | | |  __/ (_| | |_| |  __/\\__ \\__ \\")
	fmt.Println(" \\___\\__,_|\\___|_| |_|\\___|\\__, |\\__,_|\\___||___/___/")
	fmt.Println("                           |___/")
	fmt.Println()
	fmt.Println("Cache geometry recovery tool")
	fmt.Println()
	fmt.Printf("Version:    %s\n", env.Version)
	fmt.Printf("Commit:     %s\n", env.CommitHash)
	fmt.Printf("Build Time: %s\n", env.BuildTime)
	fmt.Println(" ")
}
