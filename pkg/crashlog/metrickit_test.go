package crashlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMetricKit(t *testing.T) {
	reports, err := OpenMetricKit(filepath.Join("testdata", "metrickit.json"))
	require.NoError(t, err)
	require.Len(t, reports, 2)

	r := reports[0]
	assert.Equal(t, FormatMetricKit, r.Format)
	assert.Equal(t, "com.example.MyApp", r.Metadata.AppID)
	assert.Equal(t, "1.0", r.Metadata.AppVersion)
	assert.Equal(t, "42", r.Metadata.AppBuild)
	assert.Equal(t, "iPhone14,2", r.Metadata.DeviceModel)
	assert.Equal(t, "iPhone OS 16.1", r.Metadata.OSVersion)
	assert.Equal(t, "20B82", r.Metadata.OSBuild)
	assert.Equal(t, "EXC_BAD_ACCESS", r.Exception.Type)
	assert.Equal(t, "SIGSEGV", r.Exception.Signal)
	assert.Equal(t, "0", r.Exception.Code)
	assert.Equal(t, "Namespace SIGNAL, Code 11 Segmentation fault: 11", r.Exception.TerminationReason)

	// one attributed path plus two divergent paths under one root
	require.Len(t, r.Threads, 3)
	crashed := r.Threads[0]
	assert.True(t, crashed.Crashed)
	assert.False(t, r.Threads[1].Crashed)
	assert.False(t, r.Threads[2].Crashed)

	require.Len(t, crashed.Frames, 3)
	leaf := crashed.Frames[0]
	assert.Equal(t, 0, leaf.Index)
	assert.Equal(t, uint64(0x102a3c4e8), leaf.Address)
	require.True(t, leaf.HasOffset())
	assert.Equal(t, uint64(0x44e8), *leaf.Offset)
	assert.Equal(t, "DCA7CC35-D856-3582-B7D5-256E9B5E1A40", leaf.ImageUUID)
	assert.Equal(t, uint64(16528), *crashed.Frames[2].Offset)

	assert.Equal(t, uint64(4296), *r.Threads[1].Frames[0].Offset)
	assert.Equal(t, uint64(4772), *r.Threads[2].Frames[0].Offset)
	assert.Equal(t, "libsystem_pthread.dylib", r.Threads[2].Frames[1].ImageName)

	app, err := r.Images.Lookup("dca7cc35d8563582b7d5256e9b5e1a40")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x102a38000), app.LoadAddressStart)
	assert.Equal(t, uint64(0x102a3c4e8), app.LoadAddressEnd)
	assert.Equal(t, ArchARM64e, app.Arch)
	assert.Equal(t, 3, r.Images.Len())

	second := reports[1]
	assert.Equal(t, "EXC_CRASH", second.Exception.Type)
	assert.Equal(t, "SIGABRT", second.Exception.Signal)
	require.Len(t, second.Threads, 1)
	assert.Equal(t, "DCA7CC35-D856-3582-B7D5-256E9B5E1A40", second.Threads[0].Frames[0].ImageUUID)
}

func TestParseMetricKitDeepestLeafFirst(t *testing.T) {
	payload := `{"crashDiagnostics":[{"exceptionType":6,"callStackTree":{"callStacks":[{"threadAttributed":true,"callStackRootFrames":[
		{"binaryUUID":"11111111111111111111111111111111","binaryName":"A","address":4096,"offsetIntoBinaryTextSegment":0,"subFrames":[
			{"binaryUUID":"11111111111111111111111111111111","binaryName":"A","address":4100,"offsetIntoBinaryTextSegment":4,"subFrames":[
				{"binaryUUID":"11111111111111111111111111111111","binaryName":"A","address":4104,"offsetIntoBinaryTextSegment":8}]}]}]}]}}]}`

	reports, err := ParseMetricKit([]byte(payload))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	frames := reports[0].Threads[0].Frames
	require.Len(t, frames, 3)
	for i, want := range []uint64{4104, 4100, 4096} {
		assert.Equal(t, i, frames[i].Index)
		assert.Equal(t, want, frames[i].Address)
	}
	assert.Equal(t, "EXC_BREAKPOINT", reports[0].Exception.Type)
}

func TestParseMetricKitArray(t *testing.T) {
	payload := `[
		{"crashDiagnostics":[{"signal":6,"callStackTree":{"callStacks":[{"callStackRootFrames":[{"binaryUUID":"11111111111111111111111111111111","binaryName":"A","address":4096,"offsetIntoBinaryTextSegment":0}]}]}}]},
		{"crashDiagnostics":[{"signal":"SIGKILL","callStackTree":{"callStacks":[{"callStackRootFrames":[{"binaryUUID":"11111111111111111111111111111111","binaryName":"A","address":4096,"offsetIntoBinaryTextSegment":0}]}]}}]}
	]`
	reports, err := ParseMetricKit([]byte(payload))
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "SIGABRT", reports[0].Exception.Signal)
	assert.Equal(t, "SIGKILL", reports[1].Exception.Signal)
	assert.Empty(t, reports[0].Exception.Type)
}

func TestParseMetricKitErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{name: "invalid json", payload: `{"crashDiagnostics": [`, want: ErrInvalidJSON},
		{name: "wrong shape", payload: `{"crashDiagnostics": "nope"}`, want: ErrInvalidJSON},
		{name: "no diagnostics", payload: `{"metaData": {}}`, want: ErrMissingCallStackTree},
		{name: "empty array", payload: `[]`, want: ErrMissingCallStackTree},
		{name: "no tree", payload: `{"crashDiagnostics":[{"exceptionType":1}]}`, want: ErrMissingCallStackTree},
		{name: "empty tree", payload: `{"crashDiagnostics":[{"exceptionType":1,"callStackTree":{"callStacks":[]}}]}`, want: ErrMissingCallStackTree},
		{
			name:    "no exception",
			payload: `{"crashDiagnostics":[{"callStackTree":{"callStacks":[{"callStackRootFrames":[]}]}}]}`,
			want:    ErrMissingExceptionType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetricKit([]byte(tt.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsParseError(err))
		})
	}
}

func TestParseMetricKitKeepsGoodSiblings(t *testing.T) {
	payload := `{"crashDiagnostics":[
		{"callStackTree":{"callStacks":[{"callStackRootFrames":[]}]}},
		{"exceptionType":1,"signal":11,"callStackTree":{"callStacks":[{"threadAttributed":true,"callStackRootFrames":[
			{"binaryUUID":"DCA7CC35-D856-3582-B7D5-256E9B5E1A40","binaryName":"MyApp","address":4339204328,"offsetIntoBinaryTextSegment":17640}
		]}]}}
	]}`
	reports, err := ParseMetricKit([]byte(payload))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Len(t, reports[0].Threads, 1)
	assert.Len(t, reports[0].Threads[0].Frames, 1)
}

func TestFlattenPaths(t *testing.T) {
	leaf := func(addr uint64) *mkFrame { return &mkFrame{Address: addr} }
	root := &mkFrame{Address: 1, SubFrames: []*mkFrame{
		{Address: 2, SubFrames: []*mkFrame{leaf(3), leaf(4)}},
		leaf(5),
	}}
	paths := flattenPaths(root)
	require.Len(t, paths, 3)

	var got [][]uint64
	for _, p := range paths {
		var addrs []uint64
		for _, n := range p {
			addrs = append(addrs, n.Address)
		}
		got = append(got, addrs)
	}
	assert.Equal(t, [][]uint64{{1, 2, 3}, {1, 2, 4}, {1, 5}}, got)
}
