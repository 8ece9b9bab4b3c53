package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandKind(t *testing.T) {
	for _, k := range CommandKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, CommandKind("focus").Valid())
	assert.True(t, CommandAbort.Interrupt())
	assert.True(t, CommandGetStatus.Interrupt())
	assert.False(t, CommandMultrun.Interrupt())
	assert.Equal(t, "GET_STATUS", CommandGetStatus.Upper())
}

func TestRebootLevel_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    RebootLevel
		wantErr bool
	}{
		{`{"level":2}`, RebootSoftware, false},
		{`{"level":"HARDWARE"}`, RebootHardware, false},
		{`{"level":"power_off"}`, RebootPowerOff, false},
		{`{"level":"WARM"}`, 0, true},
		{`{"level":true}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var p RebootParams
			err := json.Unmarshal([]byte(tt.input), &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Level)
		})
	}
}

func TestRebootLevel_String(t *testing.T) {
	assert.Equal(t, "REDATUM", RebootRedatum.String())
	assert.Equal(t, "UNKNOWN", RebootLevel(9).String())
	assert.False(t, RebootLevel(9).Valid())

	level, ok := ParseRebootLevel("software")
	assert.True(t, ok)
	assert.Equal(t, RebootSoftware, level)
}

func TestAggregateResult_Constructors(t *testing.T) {
	ok := Success()
	assert.True(t, ok.Successful)
	assert.Equal(t, -1, ok.FailedPeer)

	failed := Failure(ErrorCodeBusy, "busy")
	assert.False(t, failed.Successful)
	assert.Equal(t, 1800100, failed.ErrorNum)
	assert.Equal(t, -1, failed.FailedPeer)
}
