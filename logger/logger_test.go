package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{name: "默认", input: "", want: slog.LevelDebug},
		{name: "信息", input: "info", want: slog.LevelInfo},
		{name: "大写警告", input: "WARN", want: slog.LevelWarn},
		{name: "警告别名", input: " warning ", want: slog.LevelWarn},
		{name: "错误", input: "error", want: slog.LevelError},
		{name: "无法识别", input: "verbose", want: slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}
