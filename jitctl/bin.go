package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/ZenLiuCN/jitlink"
	"github.com/ZenLiuCN/jitlink/addon"
	"github.com/ZenLiuCN/jitlink/elfobj"
	"github.com/davecgh/go-spew/spew"
	"github.com/go-akka/configuration"
	"github.com/pkujhd/goloader"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "jitctl"
	app.Usage = "runtime object linker"
	app.Description = "links compiled object modules into the running process and drives the addon watch pipeline"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "inspect",
			Action: inspect,
			Usage:  "display sections and symbols of relocatable object files",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "go", Usage: "treat arguments as go object or archive files"},
				&cli.StringFlag{Name: "pkg", Aliases: []string{"p"}, Usage: "package path for go objects, default main"},
			},
			Args: true,
		},
		{
			Name:   "link",
			Action: link,
			Usage:  "link object files into this process and resolve a symbol",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "symbol to resolve after linking", Required: true},
				&cli.BoolFlag{Name: "exported", Aliases: []string{"e"}, Usage: "restrict lookup to exported symbols"},
			},
			Args: true,
		},
		{
			Name:   "watch",
			Action: watch,
			Usage:  "run the watch/compile/link pipeline",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "HOCON configuration file", Value: "jitlink.conf"},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func inspect(ctx *cli.Context) (err error) {
	if ctx.Bool("go") {
		for _, f := range ctx.Args().Slice() {
			var syms []string
			if syms, err = goloader.Parse(f, ctx.String("pkg")); err != nil {
				return
			}
			for _, s := range syms {
				fmt.Println(s)
			}
		}
		return
	}
	for _, f := range ctx.Args().Slice() {
		var raw []byte
		if raw, err = os.ReadFile(f); err != nil {
			return
		}
		var obj *elfobj.File
		if obj, err = elfobj.Open(raw); err != nil {
			return
		}
		if ctx.Bool("debug") {
			spew.Dump(obj.Relocations())
		}
		fmt.Printf("%s: %v\n", f, obj.Machine)
		for _, s := range obj.Sections {
			if s.Kind == elfobj.SecOther {
				continue
			}
			fmt.Printf("  section %-20s %6d bytes align %d\n", s.Name, s.Size, s.Align)
		}
		for _, s := range obj.DefinedSymbols() {
			vis := "local"
			if s.Exported {
				vis = "exported"
			}
			fmt.Printf("  symbol  %-20s %-8s value %#x\n", s.Name, vis, s.Value)
		}
		for _, u := range obj.UndefinedSymbols() {
			fmt.Printf("  needs   %s\n", u)
		}
	}
	return
}

func link(ctx *cli.Context) (err error) {
	debug := ctx.Bool("debug")
	layer := jitlink.NewLayer(jitlink.Observers{}, debug)
	var host jitlink.Resolver
	if host, err = jitlink.HostResolver(); err != nil {
		return
	}
	resolver := jitlink.ChainResolvers(layer.Resolver(false), host)
	alloc := jitlink.NewMmapAllocator()
	for i, f := range ctx.Args().Slice() {
		var raw []byte
		if raw, err = os.ReadFile(f); err != nil {
			return
		}
		if err = layer.AddModule(jitlink.Key(fmt.Sprintf("m%d", i)), raw, alloc, resolver); err != nil {
			return
		}
	}
	u, err := layer.FindSymbol(ctx.String("symbol"), ctx.Bool("exported"))
	if err != nil {
		return
	}
	fmt.Printf("%s = %#x\n", ctx.String("symbol"), uintptr(u))
	return
}

func watch(ctx *cli.Context) (err error) {
	debug := ctx.Bool("debug")
	opt := addon.Options{Debug: debug}
	if raw, e := os.ReadFile(ctx.String("config")); e == nil {
		cfg := configuration.ParseString(string(raw))
		opt.AddonsDir = cfg.GetString("jitlink.addons", "")
		opt.NodesDir = cfg.GetString("jitlink.nodes", "")
		opt.Debounce = cfg.GetTimeDuration("jitlink.debounce", addon.DefaultDebounce)
		opt.Compiler.Toolchain = cfg.GetString("jitlink.toolchain", "cc")
		opt.Compiler.BaseFlags = cfg.GetStringList("jitlink.flags")
		opt.Compiler.WorkDir = cfg.GetString("jitlink.workdir", "")
		opt.Compiler.KeepTemp = cfg.GetBoolean("jitlink.keep-temp", false)
	} else if debug {
		log.Printf("no config file %s, using defaults", ctx.String("config"))
	}
	if opt.AddonsDir == "" && opt.NodesDir == "" {
		opt.AddonsDir = "Addons"
		opt.NodesDir = "Nodes"
	}
	layer := jitlink.NewLayer(jitlink.Observers{
		Finalized: func(k jitlink.Key, _ *elfobj.File) {
			log.Printf("module finalized: %s", k)
		},
	}, debug)
	reg := addon.NewRegistrar(nil)
	p, err := addon.NewPipeline(opt, layer, reg)
	if err != nil {
		return
	}
	if err = p.Start(); err != nil {
		return
	}
	defer p.Close()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop
	return nil
}
