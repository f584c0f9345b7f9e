package crashlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalCrash = `Process:             MyApp [100]
Report Version:      104

Thread 0 Crashed:
0   MyApp                         	0x0000000102a3c4e8 0x102a38000 + 17640

Binary Images:
0x102a38000 - 0x102a4bfff MyApp arm64 <dca7cc35d8563582b7d5256e9b5e1a40>
`

func TestOpen(t *testing.T) {
	r, err := Open(filepath.Join("testdata", "myapp.crash"))
	require.NoError(t, err)

	assert.Equal(t, FormatLegacy, r.Format)
	assert.Equal(t, "MyApp", r.Metadata.ProcessName)
	assert.Equal(t, 4821, r.Metadata.PID)
	assert.Equal(t, "com.example.MyApp", r.Metadata.AppID)
	assert.Equal(t, "1.0", r.Metadata.AppVersion)
	assert.Equal(t, "42", r.Metadata.AppBuild)
	assert.Equal(t, "iPhone14,2", r.Metadata.DeviceModel)
	assert.Equal(t, "iPhone OS 16.1", r.Metadata.OSVersion)
	assert.Equal(t, "20B82", r.Metadata.OSBuild)
	assert.Equal(t, 104, r.Metadata.ReportVersion)
	assert.Equal(t, "ARM-64 (Native)", r.Metadata.CodeType)

	assert.Equal(t, "EXC_BAD_ACCESS", r.Exception.Type)
	assert.Equal(t, "SIGSEGV", r.Exception.Signal)
	assert.Equal(t, "0x0000000000000001, 0x0000000000000010", r.Exception.Code)
	assert.Equal(t, "KERN_INVALID_ADDRESS at 0x0000000000000010", r.Exception.Subtype)
	assert.Equal(t, "SIGNAL 11 Segmentation fault: 11", r.Exception.TerminationReason)

	assert.Equal(t, 5, r.Images.Len())
	require.Len(t, r.Threads, 3)

	crashed := r.CrashedThread()
	require.NotNil(t, crashed)
	assert.Equal(t, 0, crashed.ID)
	assert.Equal(t, "Dispatch queue: com.apple.main-thread", crashed.Label)
	assert.False(t, r.Threads[1].Crashed)
	assert.Equal(t, "com.apple.uikit.eventfetch-thread", r.Threads[2].Label)

	require.Len(t, crashed.Frames, 5)
	f0 := crashed.Frames[0]
	assert.Equal(t, uint64(0x102a3c4e8), f0.Address)
	assert.Equal(t, uint64(0x102a38000), f0.LoadAddress)
	assert.Equal(t, EncodingLoadOffset, f0.Encoding)
	assert.Equal(t, "DCA7CC35-D856-3582-B7D5-256E9B5E1A40", f0.ImageUUID)
	assert.False(t, f0.HasOffset())
	assert.Nil(t, f0.Symbol)

	f1 := crashed.Frames[1]
	assert.Equal(t, EncodingImageOffset, f1.Encoding)
	assert.Equal(t, uint64(0x102a38000), f1.LoadAddress)
	assert.Nil(t, f1.Symbol)

	f2 := crashed.Frames[2]
	require.NotNil(t, f2.Symbol)
	assert.Equal(t, StatusEmbedded, f2.Symbol.Status)
	assert.Equal(t, "-[UIApplication sendAction:to:from:forEvent:]", f2.Symbol.Function)
	assert.Equal(t, uint64(100), f2.Symbol.FuncOffset)
	assert.Equal(t, "1F9E6C2B-77A1-3C56-9D3F-8B2A41E7C0D5", f2.ImageUUID)

	f3 := crashed.Frames[3]
	require.NotNil(t, f3.Symbol)
	assert.Equal(t, "_dispatch_call_block_and_release", f3.Symbol.Function)
	assert.Equal(t, "init.c", f3.Symbol.File)
	assert.Equal(t, 1518, f3.Symbol.Line)

	orphan := r.Threads[1].Frames[1]
	assert.Equal(t, "???", orphan.ImageName)
	assert.Empty(t, orphan.ImageUUID)

	assert.Equal(t, []string{"  this line is not a frame"}, r.Threads[2].Unparsed)
}

func TestParseLegacyImageLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		want BinaryImage
	}{
		{
			name: "ios",
			line: "       0x102a38000 -        0x102a4bfff MyApp arm64  <dca7cc35d8563582b7d5256e9b5e1a40> /var/containers/MyApp.app/MyApp",
			want: BinaryImage{Name: "MyApp", Arch: ArchARM64, UUID: "DCA7CC35-D856-3582-B7D5-256E9B5E1A40", LoadAddressStart: 0x102a38000, LoadAddressEnd: 0x102a4bfff, Path: "/var/containers/MyApp.app/MyApp"},
		},
		{
			name: "macos with version",
			line: "       0x10e8d6000 -        0x10e8e1fff +com.example.app (1.0 - 1) <DCA7CC35-D856-3582-B7D5-256E9B5E1A40> /Applications/Example.app/Contents/MacOS/Example",
			want: BinaryImage{Name: "com.example.app", UUID: "DCA7CC35-D856-3582-B7D5-256E9B5E1A40", LoadAddressStart: 0x10e8d6000, LoadAddressEnd: 0x10e8e1fff, Version: "1.0 - 1", Path: "/Applications/Example.app/Contents/MacOS/Example"},
		},
		{
			name: "name with spaces no path",
			line: "0x1000 - 0x1fff My App Helper x86_64 dca7cc35d8563582b7d5256e9b5e1a40",
			want: BinaryImage{Name: "My App Helper", Arch: ArchX86_64, UUID: "DCA7CC35-D856-3582-B7D5-256E9B5E1A40", LoadAddressStart: 0x1000, LoadAddressEnd: 0x1fff},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := strings.Replace(minimalCrash, "0x102a38000 - 0x102a4bfff MyApp arm64 <dca7cc35d8563582b7d5256e9b5e1a40>", tt.line, 1)
			r, err := ParseLegacy([]byte(in))
			require.NoError(t, err)
			images := r.Images.Images()
			require.Len(t, images, 1)
			assert.Equal(t, tt.want, images[0])
		})
	}
}

func TestParseLegacyErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{
			name:  "garbage",
			input: "hello world\nnothing to see here\n",
			want:  ErrUnrecognizedFormat,
		},
		{
			name:  "no binary images",
			input: strings.Split(minimalCrash, "Binary Images:")[0],
			want:  ErrUnrecognizedFormat,
		},
		{
			name:  "no threads",
			input: "Process: MyApp [1]\n\nBinary Images:\n0x1000 - 0x1fff MyApp arm64 <dca7cc35d8563582b7d5256e9b5e1a40>\n",
			want:  ErrUnrecognizedFormat,
		},
		{
			name:  "bad report version",
			input: strings.Replace(minimalCrash, "Report Version:      104", "Report Version:      one-oh-four", 1),
			want:  ErrMalformedHeader,
		},
		{
			name:  "no header",
			input: minimalCrash[strings.Index(minimalCrash, "Thread 0"):],
			want:  ErrMalformedHeader,
		},
		{
			name:  "bad image line",
			input: minimalCrash + "this is not an image\n",
			want:  ErrMalformedBinaryImageLine,
		},
		{
			name:  "inverted image range",
			input: strings.Replace(minimalCrash, "0x102a38000 - 0x102a4bfff", "0x102a4bfff - 0x102a38000", 1),
			want:  ErrMalformedBinaryImageLine,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLegacy([]byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsParseError(err))
		})
	}
}

func TestParseLegacyBadImageLineNumber(t *testing.T) {
	_, err := ParseLegacy([]byte(minimalCrash + "junk\n"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 9, pe.Line)
	assert.Contains(t, pe.Error(), "crash:9")
}

func TestParseLegacyDuplicateImage(t *testing.T) {
	in := minimalCrash + "0x200000000 - 0x200000fff Other arm64 <DCA7CC35-D856-3582-B7D5-256E9B5E1A40>\n"
	r, err := ParseLegacy([]byte(in))
	require.NoError(t, err)
	require.Equal(t, 1, r.Images.Len())
	assert.Equal(t, "MyApp", r.Images.Images()[0].Name)
}

func TestParseLegacyTriggeredByThread(t *testing.T) {
	in := strings.Replace(minimalCrash, "Thread 0 Crashed:", "Triggered by Thread:  1\n\nThread 0:\n0   MyApp 0x0000000102a3c4e8\n\nThread 1:", 1)
	r, err := ParseLegacy([]byte(in))
	require.NoError(t, err)
	require.Len(t, r.Threads, 2)
	assert.False(t, r.Threads[0].Crashed)
	assert.True(t, r.Threads[1].Crashed)
	assert.Equal(t, EncodingAddress, r.Threads[0].Frames[0].Encoding)
}

func TestParseLegacyCrashedLabel(t *testing.T) {
	in := strings.Replace(minimalCrash, "Thread 0 Crashed:", "Thread 0 Crashed:: Dispatch queue: com.apple.main-thread", 1)
	r, err := ParseLegacy([]byte(in))
	require.NoError(t, err)
	assert.True(t, r.Threads[0].Crashed)
	assert.Equal(t, "Dispatch queue: com.apple.main-thread", r.Threads[0].Label)
}

func TestParseLegacyCRLF(t *testing.T) {
	in := strings.ReplaceAll(minimalCrash, "\n", "\r\n")
	r, err := ParseLegacy([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Images.Len())
	assert.Len(t, r.Threads[0].Frames, 1)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.crash"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
