package ioplugin

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/mediaswitch/tsswitch/internal/switchengine"
)

// FileInputConfig configures a FileInput.
type FileInputConfig struct {
	Path string
	// Fs defaults to afero.NewOsFs(); tests substitute afero.NewMemMapFs().
	Fs afero.Fs
	// Loop replays the file from the start once it is exhausted instead
	// of ending the session, useful for feeding a fixed capture file into
	// a long-running switcher.
	Loop bool
}

// FileInput reads whole packets sequentially out of a plain file of
// concatenated MPEG-TS packets, the simplest possible InputPlugin and a
// natural stand-in for a capture file or named pipe in tests and demos.
type FileInput struct {
	cfg  FileInputConfig
	log  *slog.Logger
	fs   afero.Fs
	file afero.File
	r    *bufio.Reader
}

// NewFileInput builds a FileInput reading cfg.Path.
func NewFileInput(cfg FileInputConfig, log *slog.Logger) *FileInput {
	if log == nil {
		log = slog.Default()
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileInput{cfg: cfg, log: log, fs: fs}
}

// Start implements switchengine.InputPlugin.
func (f *FileInput) Start() bool {
	file, err := f.fs.Open(f.cfg.Path)
	if err != nil {
		f.log.Error("opening input file", slog.String("path", f.cfg.Path), slog.String("error", err.Error()))
		return false
	}
	f.file = file
	f.r = bufio.NewReaderSize(file, 64*switchengine.PacketSize)
	return true
}

// Receive implements switchengine.InputPlugin.
func (f *FileInput) Receive(packets []switchengine.Packet, _ []switchengine.PacketMeta) int {
	n := 0
	for n < len(packets) {
		_, err := io.ReadFull(f.r, packets[n][:])
		if err == nil {
			n++
			continue
		}
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			f.log.Warn("reading input file", slog.String("error", err.Error()))
			return n
		}
		if !f.cfg.Loop {
			return n
		}
		if rerr := f.rewind(); rerr != nil {
			f.log.Warn("rewinding input file for loop", slog.String("error", rerr.Error()))
			return n
		}
	}
	return n
}

func (f *FileInput) rewind() error {
	if seeker, ok := f.file.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		f.r.Reset(f.file)
		return nil
	}
	return fmt.Errorf("file does not support seeking")
}

// Stop implements switchengine.InputPlugin.
func (f *FileInput) Stop() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

// AbortInput implements switchengine.InputPlugin. A blocked file read has
// no reliable interrupt short of closing the descriptor out from under
// the reader, which afero.File does not make safe to do concurrently; a
// local file read never blocks indefinitely in practice, so this reports
// no abort support and lets the executor tolerate the (bounded) block.
func (f *FileInput) AbortInput() bool {
	return false
}

// FileOutputConfig configures a FileOutput.
type FileOutputConfig struct {
	Path string
	Fs   afero.Fs
	// Truncate removes any existing file content on Start; otherwise
	// packets are appended.
	Truncate bool
}

// FileOutput appends received packets to a plain file, the output-side
// counterpart to FileInput.
type FileOutput struct {
	cfg  FileOutputConfig
	log  *slog.Logger
	fs   afero.Fs
	file afero.File
}

// NewFileOutput builds a FileOutput writing to cfg.Path.
func NewFileOutput(cfg FileOutputConfig, log *slog.Logger) *FileOutput {
	if log == nil {
		log = slog.Default()
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileOutput{cfg: cfg, log: log, fs: fs}
}

// Start implements switchengine.OutputPlugin.
func (f *FileOutput) Start() bool {
	flags := os.O_WRONLY | os.O_CREATE
	if f.cfg.Truncate {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	file, err := f.fs.OpenFile(f.cfg.Path, flags, 0o644)
	if err != nil {
		f.log.Error("opening output file", slog.String("path", f.cfg.Path), slog.String("error", err.Error()))
		return false
	}
	f.file = file
	return true
}

// Write implements switchengine.OutputPlugin.
func (f *FileOutput) Write(packets []switchengine.Packet) bool {
	for i := range packets {
		if _, err := f.file.Write(packets[i][:]); err != nil {
			f.log.Error("writing output file", slog.String("error", err.Error()))
			return false
		}
	}
	return true
}

// Stop implements switchengine.OutputPlugin.
func (f *FileOutput) Stop() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}
