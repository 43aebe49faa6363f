package chatbot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestNewWidgetID(t *testing.T) {
	a, err := NewWidgetID()
	require.NoError(t, err)
	b, err := NewWidgetID()
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(a, "widget_"))
	require.Len(t, a, len("widget_")+16)
	require.NotEqual(t, a, b)
}

func TestGenerationOptions(t *testing.T) {
	nested := &Chatbot{Settings: datatypes.JSON(`{"options":{"temperature":0.2},"theme":"dark"}`)}
	require.Equal(t, map[string]any{"temperature": 0.2}, nested.GenerationOptions())

	flat := &Chatbot{Settings: datatypes.JSON(`{"top_p":0.5}`)}
	require.Equal(t, map[string]any{"top_p": 0.5}, flat.GenerationOptions())

	require.Empty(t, (&Chatbot{Settings: datatypes.JSON(`not json`)}).GenerationOptions())
	require.Equal(t, DefaultModel, (&Chatbot{}).Model())
}
