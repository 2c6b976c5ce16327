package ioplugin

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/mediaswitch/tsswitch/internal/switchengine"
)

func TestFileOutputThenFileInputRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()

	out := NewFileOutput(FileOutputConfig{Path: "/capture.ts", Fs: fs, Truncate: true}, nil)
	require.True(t, out.Start())

	var want switchengine.Packet
	want[0] = 0x47
	want[1] = 0x01
	require.True(t, out.Write([]switchengine.Packet{want, want}))
	out.Stop()

	in := NewFileInput(FileInputConfig{Path: "/capture.ts", Fs: fs}, nil)
	require.True(t, in.Start())
	defer in.Stop()

	packets := make([]switchengine.Packet, 4)
	n := in.Receive(packets, nil)
	require.Equal(t, 2, n)
	require.Equal(t, want, packets[0])
	require.Equal(t, want, packets[1])

	n = in.Receive(packets, nil)
	require.Equal(t, 0, n)
}

func TestFileInputLoopsWhenConfigured(t *testing.T) {
	fs := afero.NewMemMapFs()
	out := NewFileOutput(FileOutputConfig{Path: "/loop.ts", Fs: fs, Truncate: true}, nil)
	require.True(t, out.Start())
	require.True(t, out.Write([]switchengine.Packet{{}}))
	out.Stop()

	in := NewFileInput(FileInputConfig{Path: "/loop.ts", Fs: fs, Loop: true}, nil)
	require.True(t, in.Start())
	defer in.Stop()

	packets := make([]switchengine.Packet, 3)
	n := in.Receive(packets, nil)
	require.Equal(t, 3, n, "loop should keep filling the buffer past one file's worth of packets")
}

func TestFileInputMissingPathFailsStart(t *testing.T) {
	fs := afero.NewMemMapFs()
	in := NewFileInput(FileInputConfig{Path: "/missing.ts", Fs: fs}, nil)
	require.False(t, in.Start())
}
