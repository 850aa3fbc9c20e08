package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vmexit/winkd/internal/config"
	"github.com/vmexit/winkd/internal/emulator"
	glog "github.com/vmexit/winkd/internal/log"
	"github.com/vmexit/winkd/internal/session"
	"github.com/vmexit/winkd/internal/transport"
)

var version = "dev"

var (
	verbose    bool
	cfgPath    string
	imagePath  string
	imageBase  uint32
	entryPoint uint32
	tapOff     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "winkd [device]",
		Short: "KD debugger stub for an emulated x86 guest",
		Long: `Winkd speaks the Windows kernel-debugger wire protocol to WinDbg over a
byte-oriented transport and bridges it to an emulated 32-bit x86 guest.

The stub parses the debugger's packet stream, serves memory and context
reads and writes, installs software breakpoints and hardware watchpoints,
and reports break-ins and breakpoint hits as state-change packets.

Device URIs:
  pipe:windbg         unix socket "windbg" in the runtime directory
  unix:/tmp/windbg    unix socket at an explicit path
  tcp:127.0.0.1:5005  TCP listener

On the WinDbg side, connect with e.g.
  windbg -k com:pipe,port=\\.\pipe\windbg,resets=0,reconnect

Examples:
  winkd pipe:windbg --image ntoskrnl.img --entry 0x80100000
  winkd tcp:0.0.0.0:5005 -v`,
		Args:                  cobra.MaximumNArgs(1),
		DisableFlagsInUseLine: true,
		RunE:                  run,
	}

	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to winkd.yaml")
	rootCmd.Flags().StringVar(&imagePath, "image", "", "flat guest memory image to load")
	rootCmd.Flags().Uint32Var(&imageBase, "base", 0x00100000, "guest physical load address of --image")
	rootCmd.Flags().Uint32Var(&entryPoint, "entry", 0x00100000, "guest entry point")
	rootCmd.Flags().BoolVar(&tapOff, "no-tap", false, "disable the diagnostic packet tap")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the winkd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Device = args[0]
	}
	glog.Init(verbose || cfg.Debug)

	tr, err := transport.Open(cfg.Device)
	if err != nil {
		// Transport open failure is the documented -1 exit.
		glog.L.Error("transport open failed", zap.Error(err))
		os.Exit(255)
	}
	defer tr.Close()

	m, err := emulator.New(emulator.DefaultMemBase, emulator.DefaultMemSize)
	if err != nil {
		return fmt.Errorf("build guest: %w", err)
	}
	defer m.Close()

	scfg := session.Config{}
	if cfg.Tap.Enabled && !tapOff {
		scfg.TapDir = cfg.Tap.Dir
	}
	s := session.Start(m, tr, scfg)

	if imagePath != "" {
		image, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("load image: %w", err)
		}
		if err := m.LoadImage(imageBase, image); err != nil {
			return fmt.Errorf("map image: %w", err)
		}
		if err := m.InitRegs(entryPoint, imageBase, 0); err != nil {
			return err
		}
		s.OnLoad()

		glog.L.Info("guest running",
			zap.String("image", imagePath),
			zap.Uint32("entry", entryPoint),
		)
		go handleSignals(m)
		return m.Run(entryPoint)
	}

	// No guest image: serve the debugger against the empty machine
	// until interrupted. Useful for protocol bring-up.
	s.OnLoad()
	waitForSignal()
	return nil
}

func handleSignals(m *emulator.Machine) {
	waitForSignal()
	m.Close()
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
