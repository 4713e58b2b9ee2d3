package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/inhies/go-bytesize"

	"github.com/lopygo/machinectl/config"
	"github.com/lopygo/machinectl/image"
)

// cmdImage implements "image info <file>" and "image hex <in.bin> <out.hex>".
func cmdImage(w io.Writer, cfg config.Board, addr uint32, args []string) error {
	if len(args) == 0 {
		return usageErrorf("image info <file> | image hex <in.bin> <out.hex>")
	}
	switch args[0] {
	case "info":
		if len(args) != 2 {
			return usageErrorf("image info <file>")
		}
		im, err := readImage(args[1], addr)
		if err != nil {
			return err
		}
		flash, err := cfg.FlashBytes()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, im.Summary())
		for _, s := range im.Segments {
			fmt.Fprintf(w, "  %#08x  %s\n", s.Address, bytesize.New(float64(len(s.Data))))
		}
		if im.HasEntry {
			fmt.Fprintf(w, "entry %#08x\n", im.Entry)
		}
		free := int64(flash) - int64(im.End())
		if free < 0 {
			return fmt.Errorf("image does not fit in the %s flash of %s by %s",
				bytesize.New(float64(flash)), cfg.Board, bytesize.New(float64(-free)))
		}
		fmt.Fprintf(w, "fits in %s flash of %s, %s left\n", bytesize.New(float64(flash)), cfg.Board, bytesize.New(float64(free)))
		return nil
	case "hex":
		if len(args) != 3 {
			return usageErrorf("image hex <in.bin> <out.hex>")
		}
		im, err := readImage(args[1], addr)
		if err != nil {
			return err
		}
		f, err := os.Create(args[2])
		if err != nil {
			return err
		}
		if err := im.WriteHex(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s: %s\n", args[2], im.Summary())
		return nil
	default:
		return usageErrorf("unknown image command %q", args[0])
	}
}

// readImage reads an Intel HEX file, or a raw binary loaded at addr.
func readImage(path string, addr uint32) (*image.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return image.ParseHex(f)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return image.FromBinary(addr, data)
	}
}
