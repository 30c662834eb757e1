// Command memctl is the CLI shell around the core library: the argument
// parser, output formatting, and process lifecycle are explicitly out of
// the core's scope (spec §1 — "the CLI ... does not belong to the core"),
// so this package stays a thin wrapper exercising pkg/kimage,
// pkg/vtablefinder, and pkg/gadget against an on-disk
// kernel image. Live operations that need an already-acquired kernel task
// port (reading/writing kernel memory, installing the trap hook, issuing
// kernel_call) depend on external collaborators this CLI does not itself
// implement, matching spec §1's "assumed provided" framing; it reports
// them as unavailable rather than acquiring a task port itself.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memctl/memctl-go/pkg/gadget"
	"github.com/memctl/memctl-go/pkg/kimage"
	"github.com/memctl/memctl-go/pkg/memctllog"
	"github.com/memctl/memctl-go/pkg/merr"
	"github.com/memctl/memctl-go/pkg/vtablefinder"
)

var version = "0.1.0"

var (
	slideFlag    string
	logLevelFlag string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "memctl",
		Short: "inspect a Darwin kernel image's C++ class layout and kernel-call gadget availability",
		Long: `memctl inspects a kernel image's C++ class layout (vtables, metaclasses)
and reports which kernel-call gadgets it provides. These are the operations
that need only the on-disk kernel image. Operations that need a live kernel
task port are not implemented by this shell; it names them by interface and
reports them unavailable.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.PersistentFlags().StringVar(&slideFlag, "slide", "0", "kernel slide (kASLR delta); decimal or 0x-prefixed hex")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "debug, info, warn, or error")

	rootCmd.AddCommand(newClassesCmd(out, errOut))
	rootCmd.AddCommand(newFindCmd(out, errOut))
	rootCmd.AddCommand(newGadgetsCmd(out, errOut))
	return rootCmd
}

func parseSlide() (uint64, error) {
	slide, err := strconv.ParseUint(slideFlag, 0, 64)
	if err != nil {
		return 0, merr.New(merr.KindUnavailable, "invalid --slide value %q", slideFlag)
	}
	return slide, nil
}

func loadImage(path string) (*kimage.Image, error) {
	slide, err := parseSlide()
	if err != nil {
		return nil, err
	}
	return kimage.Load(path, slide)
}

func printErr(errOut io.Writer, err error) error {
	fmt.Fprintf(errOut, "memctl: %v\n", err)
	return err
}

func newClassesCmd(out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "classes <kernel-image>",
		Short: "list every C++ class this image's __mod_init_func/__const sections confirm a vtable and metaclass for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return printErr(errOut, err)
			}
			defer img.Close()

			log := memctllog.New(errOut, logLevelFlag)
			syms, err := vtablefinder.Find(cmd.Context(), img, log)
			if err != nil {
				return printErr(errOut, err)
			}

			bindings := syms.Lookup()
			sort.Slice(bindings, func(i, j int) bool { return bindings[i].ClassName < bindings[j].ClassName })
			for _, b := range bindings {
				fmt.Fprintf(out, "%-40s vtable=0x%-10x (%2d slots)  metaclass=0x%x\n",
					b.ClassName, b.VtableAddr, b.VtableLen, b.MetaClass)
			}
			fmt.Fprintf(errOut, "memctl: %d classes confirmed\n", len(bindings))
			return nil
		},
	}
}

func newFindCmd(out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "find <kernel-image> <class-name>",
		Short: "report the vtable and metaclass of a single class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return printErr(errOut, err)
			}
			defer img.Close()

			log := memctllog.New(errOut, logLevelFlag)
			syms, err := vtablefinder.Find(cmd.Context(), img, log)
			if err != nil {
				return printErr(errOut, err)
			}

			className := args[1]
			addr, length, ok := syms.ClassVtable(className)
			if !ok {
				return printErr(errOut, merr.New(merr.KindNotFound, "no vtable found for class %s", className))
			}
			metaclass, _ := syms.ClassMetaclass(className)
			fmt.Fprintf(out, "%s: vtable=0x%x (%d slots) metaclass=0x%x\n", className, addr, length, metaclass)
			return nil
		},
	}
}

func newGadgetsCmd(out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "gadgets <kernel-image>",
		Short: "report which kernel-call gadget catalog entries this image's executable regions contain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return printErr(errOut, err)
			}
			defer img.Close()

			found, err := gadget.Scan(cmd.Context(), img)
			if err != nil {
				return printErr(errOut, err)
			}

			have := 0
			for _, g := range gadget.Catalog {
				entry := found.Get(g.ID)
				if entry.Found {
					have++
					fmt.Fprintf(out, "%-70s found at 0x%x\n", entry.Desc, entry.Addr)
				} else {
					fmt.Fprintf(out, "%-70s missing\n", entry.Desc)
				}
			}
			fmt.Fprintf(errOut, "memctl: %d/%d gadgets found\n", have, len(gadget.Catalog))
			return nil
		},
	}
}
