package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func strp(s string) *string { return &s }

func TestStableIDIgnoresPosition(t *testing.T) {
	a := SymbolInput{Kind: "function", Qualname: "m.f", Signature: strp("(x:int)->int"), StartLine: 10}
	b := SymbolInput{Kind: "function", Qualname: "m.f", Signature: strp("(x:int)->int"), StartLine: 100, StartCol: 4, StartByte: 4000}

	assert.Equal(t, a.StableID("m/f.py"), b.StableID("m/f.py"))
}

func TestStableIDChangesWithIdentityFields(t *testing.T) {
	base := SymbolInput{Kind: "function", Qualname: "m.f", Signature: strp("(x:int)")}

	tests := []struct {
		name  string
		input SymbolInput
		path  string
	}{
		{"different kind", SymbolInput{Kind: "method", Qualname: "m.f", Signature: strp("(x:int)")}, "m/f.py"},
		{"different qualname", SymbolInput{Kind: "function", Qualname: "m.g", Signature: strp("(x:int)")}, "m/f.py"},
		{"different signature", SymbolInput{Kind: "function", Qualname: "m.f", Signature: strp("(x:str)")}, "m/f.py"},
		{"nil signature", SymbolInput{Kind: "function", Qualname: "m.f"}, "m/f.py"},
		{"different file", base, "other/f.py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base.StableID("m/f.py"), tt.input.StableID(tt.path))
		})
	}
}

func TestStableIDFormat(t *testing.T) {
	id := StableID("function", "m.f", nil, "m/f.py")
	assert.True(t, strings.HasPrefix(id, "sym_"))
	assert.Len(t, id, len("sym_")+16)
}

func TestComplementKind(t *testing.T) {
	tests := []struct {
		kind string
		want string
		ok   bool
	}{
		{EdgeChannelPublish, EdgeChannelSubscribe, true},
		{EdgeChannelSubscribe, EdgeChannelPublish, true},
		{EdgeRPCCall, EdgeRPCImpl, true},
		{EdgeRPCImpl, EdgeRPCCall, true},
		{EdgeHTTPCall, EdgeHTTPRoute, true},
		{EdgeHTTPRoute, EdgeHTTPCall, true},
		{EdgeCalls, "", false},
		{EdgeImports, "", false},
	}
	for _, tt := range tests {
		got, ok := ComplementKind(tt.kind)
		assert.Equal(t, tt.ok, ok, tt.kind)
		assert.Equal(t, tt.want, got, tt.kind)
	}
}

func TestFileLiveAt(t *testing.T) {
	v5 := int64(5)
	tests := []struct {
		name string
		file File
		at   int64
		want bool
	}{
		{"never deleted", File{}, 10, true},
		{"deleted later", File{DeletedVersion: &v5}, 4, true},
		{"deleted at queried version", File{DeletedVersion: &v5}, 5, false},
		{"deleted before", File{DeletedVersion: &v5}, 9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.file.LiveAt(tt.at))
		})
	}
}

func TestDiagnosticHashDeterministic(t *testing.T) {
	a := DiagnosticHash("m/a.py", 7, "E501", "line too long")
	b := DiagnosticHash("m/a.py", 7, "E501", "line too long")
	c := DiagnosticHash("m/a.py", 8, "E501", "line too long")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
