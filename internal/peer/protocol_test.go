package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		line    string
		code    int
		payload string
		wantErr bool
	}{
		{"0 3 2 run0003.fits", 0, "3 2 run0003.fits", false},
		{"5 Camera not responding", 5, "Camera not responding", false},
		{"0", 0, "", false},
		{"  0 true\r\n", 0, "true", false},
		{"", 0, "", true},
		{"OK done", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			r, err := ParseReply(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.code, r.Code)
			assert.Equal(t, tt.payload, r.Payload)
			assert.Equal(t, tt.code == ReplyOK, r.OK())
		})
	}
}

func TestParseExposureReply(t *testing.T) {
	r, err := ParseExposureReply("3 2 run0003.fits")
	require.NoError(t, err)
	assert.Equal(t, ExposureReply{FilenameCount: 3, MultrunNumber: 2, LastFilename: "run0003.fits"}, r)

	r, err = ParseExposureReply("0 7 none")
	require.NoError(t, err)
	assert.Empty(t, r.LastFilename)

	_, err = ParseExposureReply("3 2")
	assert.Error(t, err)
	_, err = ParseExposureReply("x 2 a.fits")
	assert.Error(t, err)
}

func TestCommandBuilders(t *testing.T) {
	assert.Equal(t, "config bin 2", ConfigBin(2))
	assert.Equal(t, "config filter MOP-R", ConfigFilter("MOP-R"))
	assert.Equal(t, "config rotorspeed fast", ConfigRotorspeed("fast"))
	assert.Equal(t, "multrun 10000 4 false", Multrun(10000, 4, false))
	assert.Equal(t, "multdark 5000 2", Multdark(5000, 2))
	assert.Equal(t, "multbias 3", Multbias(3))
	assert.Equal(t, "status rotator position", Status("rotator", "position"))
	assert.Equal(t, "status", Verb("status exposure window"))
	assert.Equal(t, "abort", Verb(CommandAbort))
}

func TestParseBool(t *testing.T) {
	v, err := ParseBool("true")
	require.NoError(t, err)
	assert.True(t, v)
	v, err = ParseBool(" false ")
	require.NoError(t, err)
	assert.False(t, v)
	_, err = ParseBool("maybe")
	assert.Error(t, err)
}

func TestParseTemperatureReply(t *testing.T) {
	r, err := ParseTemperatureReply("2026-10-19T12:00:00.000 UTC -20.50")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19T12:00:00.000 UTC", r.Timestamp)
	assert.InDelta(t, -20.5, r.Celsius, 1e-9)

	_, err = ParseTemperatureReply("-20.5")
	assert.Error(t, err)
}
