package utils

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestConvertStrToInt(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    uint64
		wantErr bool
	}{
		{name: "hex prefixed", in: "0x102a38000", want: 0x102a38000},
		{name: "hex upper", in: "0X102A3C4E8", want: 0x102a3c4e8},
		{name: "bare hex digits", in: "44e8", want: 0x44e8},
		{name: "decimal", in: "17640", want: 17640},
		{name: "garbage", in: "zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertStrToInt(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConvertStrToInt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ConvertStrToInt() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestUniqueAppend(t *testing.T) {
	type args struct {
		slice []string
		add   []string
	}
	tests := []struct {
		name string
		args args
		want []string
	}{
		{
			name: "Test UniqueAppend new",
			args: args{slice: []string{"arm64e"}, add: []string{"arm64", "x86_64"}},
			want: []string{"arm64e", "arm64", "x86_64"},
		},
		{
			name: "Test UniqueAppend dupes",
			args: args{slice: []string{"arm64e", "arm64"}, add: []string{"ARM64", "arm64e"}},
			want: []string{"arm64e", "arm64"},
		},
		{
			name: "Test UniqueAppend empty",
			args: args{slice: nil, add: []string{"arm64", "arm64"}},
			want: []string{"arm64"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UniqueAppend(tt.args.slice, tt.args.add...); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("UniqueAppend() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/dsyms"); got != filepath.Join(home, "dsyms") {
		t.Errorf("ExpandPath() = %s, want %s", got, filepath.Join(home, "dsyms"))
	}
	if got := ExpandPath("/tmp/dsyms"); got != "/tmp/dsyms" {
		t.Errorf("ExpandPath() = %s, want /tmp/dsyms", got)
	}
}
