package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/w1ctl/internal/capture"
	"github.com/danmuck/w1ctl/internal/protocol/connector"
	"github.com/danmuck/w1ctl/internal/protocol/w1"
	"github.com/danmuck/w1ctl/internal/testutil/testlog"
)

func TestDecodeCaptureReplaysFrames(t *testing.T) {
	testlog.Start(t)

	slave, err := w1.ParseSlaveID("28-0000056a1c2b")
	require.NoError(t, err)

	request, err := w1.EncodeEnvelope(7, w1.NewMasterCommand(1, w1.Search()))
	require.NoError(t, err)
	reply, err := connector.Encode[w1.SearchReply](w1.SearchReplyCodec{}, connector.NewEnvelope(7, w1.SearchReply{
		Message: w1.NewMasterCommand(1, w1.Search()),
		Slaves:  []w1.TargetID{slave},
	}))
	require.NoError(t, err)

	var buf bytes.Buffer
	w := capture.NewWriter(&buf, capture.Options{Session: "s1"})
	require.NoError(t, w.Record(capture.DirectionOut, capture.Transport{Type: connector.TypeConnector, Seq: 7}, request, "search"))
	require.NoError(t, w.Record(capture.DirectionIn, capture.Transport{Type: connector.TypeDone, Seq: 7}, reply, ""))
	require.NoError(t, w.Record(capture.DirectionIn, capture.Transport{Type: connector.TypeDone, Seq: 8}, []byte{0x01, 0x02}, ""))

	var out bytes.Buffer
	require.NoError(t, decodeCapture(&out, capture.NewReader(&buf, capture.Filter{})))

	text := out.String()
	assert.Contains(t, text, "out seq=7 search")
	assert.Contains(t, text, "master_cmd id=1\n")
	assert.Contains(t, text, "    search\n")
	assert.Contains(t, text, "found 28-0000056a1c2b")
	assert.Contains(t, text, "decode error:")
}

func TestDecodeFrameListsMasters(t *testing.T) {
	frame, err := w1.EncodeEnvelope(3, w1.Message{Type: w1.MsgListMasters, Masters: []uint32{1, 2}})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, describeFrame(&out, connector.TransportHeader{Type: connector.TypeConnector}, frame))
	assert.Contains(t, out.String(), "envelope seq=3 ack=0 messages=1")
	assert.Contains(t, out.String(), "master 1\n")
	assert.Contains(t, out.String(), "master 2\n")
}

func TestDecodeFrameReportsKernelStatus(t *testing.T) {
	frame, err := w1.EncodeEnvelope(5, w1.Message{Type: w1.MsgMasterCmd, Status: 19, ID: w1.MasterID(2)})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, describeFrame(&out, connector.TransportHeader{Type: connector.TypeDone}, frame))
	assert.Equal(t, "  master_cmd id=2 kernel status=19\n", out.String())
}

func TestDecodeFlagsFilter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	f, err := decodeFlags{Session: "abc", Direction: "in", Since: time.Minute}.filter(now)
	require.NoError(t, err)
	assert.Equal(t, "abc", f.Session)
	require.NotNil(t, f.Direction)
	assert.Equal(t, capture.DirectionIn, *f.Direction)
	require.NotNil(t, f.Since)
	assert.Equal(t, now.Add(-time.Minute), *f.Since)

	_, err = decodeFlags{Direction: "sideways"}.filter(now)
	assert.Error(t, err)
}

func TestParseArguments(t *testing.T) {
	id, err := parseMaster("12")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), id)

	_, err = parseMaster("-1")
	assert.Error(t, err)

	slave, err := parseSlave("28-0000056a1c2b")
	require.NoError(t, err)
	assert.Equal(t, "28-0000056a1c2b", slave.SysfsName())

	_, err = parseSlave("nope")
	assert.Error(t, err)
}
