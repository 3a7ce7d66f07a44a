package worker

import (
	"io"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ionworker/worker/pkg/channel"
	"github.com/ionworker/worker/pkg/producer"
)

// testRig drives a real Worker through its control Channel over a pair of
// in-memory pipes, the same duplex shape cmd/ionworker wires onto fd 3/4, so
// these tests exercise the method handlers exactly as the controller would
// reach them rather than calling unexported methods directly.
type testRig struct {
	t      *testing.T
	w      *Worker
	reqW   *io.PipeWriter
	reqOut *channel.Writer
	respIn *channel.Reader
	nextID uint32
}

func newTestRig(t *testing.T, settings Settings) *testRig {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	ch := channel.New(logr.Discard(), reqR, respW, channel.BinaryCodec{})
	w, err := New(settings, logr.Discard(), ch)
	require.NoError(t, err)

	go w.Run()
	t.Cleanup(func() {
		reqW.Close()
		_ = w.Close()
	})

	return &testRig{t: t, w: w, reqW: reqW, reqOut: channel.NewWriter(reqW), respIn: channel.NewReader(respR)}
}

func (r *testRig) request(targetID, method string, body []byte) *channel.Response {
	r.t.Helper()
	r.nextID++
	id := r.nextID

	payload, err := channel.BinaryCodec{}.EncodeRequest(&channel.Request{ID: id, Method: method, TargetID: targetID, Body: body})
	require.NoError(r.t, err)
	require.NoError(r.t, r.reqOut.WriteFrame(payload))

	frame, err := r.respIn.ReadFrame()
	require.NoError(r.t, err)
	msg, err := channel.BinaryCodec{}.Decode(frame)
	require.NoError(r.t, err)
	resp, ok := msg.(*channel.Response)
	require.True(r.t, ok)
	require.Equal(r.t, id, resp.ID)
	return resp
}

func portRangeSettings(min, max uint16) Settings {
	s := DefaultSettings()
	s.RtcMinPort = min
	s.RtcMaxPort = max
	return s
}

func TestWorkerDumpReportsPidAndNoRoutersInitially(t *testing.T) {
	rig := newTestRig(t, portRangeSettings(30000, 30100))

	resp := rig.request(workerTargetID, "worker.dump", nil)
	require.True(t, resp.Accepted)

	p := newParamsReader(resp.Body)
	pid, err := p.u32()
	require.NoError(t, err)
	require.Positive(t, pid)

	ids, err := p.strList()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestWorkerCreateRouterThenWebRtcTransportReturnsOneCandidateAndFiveFingerprints(t *testing.T) {
	rig := newTestRig(t, portRangeSettings(40100, 40200))

	createRouterBody := &paramsWriter{}
	createRouterBody.str("router-1")
	resp := rig.request(workerTargetID, "worker.createRouter", createRouterBody.bytes())
	require.True(t, resp.Accepted)

	dump := rig.request(workerTargetID, "worker.dump", nil)
	p := newParamsReader(dump.Body)
	_, err := p.u32()
	require.NoError(t, err)
	ids, err := p.strList()
	require.NoError(t, err)
	require.Equal(t, []string{"router-1"}, ids)

	createTransportBody := &paramsWriter{}
	createTransportBody.str("transport-1")
	createTransportBody.strList([]string{"127.0.0.1"})
	createTransportBody.boolean(true)
	createTransportBody.boolean(false)
	resp = rig.request("router-1", "router.createWebRtcTransport", createTransportBody.bytes())
	require.True(t, resp.Accepted)

	tp := newParamsReader(resp.Body)
	id, err := tp.str()
	require.NoError(t, err)
	require.Equal(t, "transport-1", id)

	candidateCount, err := tp.u16()
	require.NoError(t, err)
	require.EqualValues(t, 1, candidateCount)

	_, err = tp.str() // foundation
	require.NoError(t, err)
	_, err = tp.str() // protocol
	require.NoError(t, err)
	_, err = tp.u32() // priority
	require.NoError(t, err)
	_, err = tp.str() // ip
	require.NoError(t, err)
	port, err := tp.u16()
	require.NoError(t, err)
	require.GreaterOrEqual(t, port, uint16(40100))
	require.LessOrEqual(t, port, uint16(40200))

	_, err = tp.str() // ufrag
	require.NoError(t, err)
	_, err = tp.str() // password
	require.NoError(t, err)

	fpCount, err := tp.u16()
	require.NoError(t, err)
	require.EqualValues(t, 5, fpCount)
}

func TestWorkerPortExhaustionOnThirdWebRtcTransport(t *testing.T) {
	rig := newTestRig(t, portRangeSettings(40000, 40001))

	createRouterBody := &paramsWriter{}
	createRouterBody.str("router-1")
	resp := rig.request(workerTargetID, "worker.createRouter", createRouterBody.bytes())
	require.True(t, resp.Accepted)

	createTransport := func(id string) *channel.Response {
		body := &paramsWriter{}
		body.str(id)
		body.strList(nil)
		body.boolean(true)
		body.boolean(false)
		return rig.request("router-1", "router.createWebRtcTransport", body.bytes())
	}

	resp = createTransport("t1")
	require.True(t, resp.Accepted)

	resp = createTransport("t2")
	require.True(t, resp.Accepted)

	resp = createTransport("t3")
	require.False(t, resp.Accepted)
	require.NotNil(t, resp.Error)
	require.Contains(t, resp.Error.Reason, "no more available ports")
}

func TestWorkerUnknownTargetReturnsError(t *testing.T) {
	rig := newTestRig(t, portRangeSettings(30200, 30300))

	resp := rig.request("does-not-exist", "worker.dump", nil)
	require.False(t, resp.Accepted)
	require.NotNil(t, resp.Error)
}

func TestWorkerDuplicateRouterIdFails(t *testing.T) {
	rig := newTestRig(t, portRangeSettings(30400, 30500))

	body := &paramsWriter{}
	body.str("router-dup")
	resp := rig.request(workerTargetID, "worker.createRouter", body.bytes())
	require.True(t, resp.Accepted)

	resp = rig.request(workerTargetID, "worker.createRouter", body.bytes())
	require.False(t, resp.Accepted)
	require.NotNil(t, resp.Error)
}

func TestWorkerCreateDirectTransportThenProducePause(t *testing.T) {
	rig := newTestRig(t, portRangeSettings(30600, 30700))

	routerBody := &paramsWriter{}
	routerBody.str("router-direct")
	resp := rig.request(workerTargetID, "worker.createRouter", routerBody.bytes())
	require.True(t, resp.Accepted)

	transportBody := &paramsWriter{}
	transportBody.str("direct-1")
	resp = rig.request("router-direct", "router.createDirectTransport", transportBody.bytes())
	require.True(t, resp.Accepted)

	produceBody := &paramsWriter{}
	produceBody.str("producer-1")
	produceBody.u8(1) // video
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u16(1)
	produceBody.u32(1000)
	produceBody.u32(0)
	produceBody.str("")
	produceBody.u32(90000)
	resp = rig.request("direct-1", "transport.produce", produceBody.bytes())
	require.True(t, resp.Accepted)

	pp := newParamsReader(resp.Body)
	producerID, err := pp.str()
	require.NoError(t, err)
	require.Equal(t, "producer-1", producerID)

	resp = rig.request(producerID, "producer.pause", nil)
	require.True(t, resp.Accepted)

	resp = rig.request(producerID, "producer.resume", nil)
	require.True(t, resp.Accepted)

	resp = rig.request(producerID, "producer.close", nil)
	require.True(t, resp.Accepted)

	resp = rig.request(producerID, "producer.pause", nil)
	require.False(t, resp.Accepted)
}

func TestWorkerConsumerLayerAndPriorityAndProducerTraceEvent(t *testing.T) {
	rig := newTestRig(t, portRangeSettings(30800, 30900))

	routerBody := &paramsWriter{}
	routerBody.str("router-layers")
	resp := rig.request(workerTargetID, "worker.createRouter", routerBody.bytes())
	require.True(t, resp.Accepted)

	transportBody := &paramsWriter{}
	transportBody.str("direct-layers")
	resp = rig.request("router-layers", "router.createDirectTransport", transportBody.bytes())
	require.True(t, resp.Accepted)

	produceBody := &paramsWriter{}
	produceBody.str("producer-layers")
	produceBody.u8(1) // video
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u8(0)
	produceBody.u16(1)
	produceBody.u32(3000)
	produceBody.u32(0)
	produceBody.str("")
	produceBody.u32(90000)
	resp = rig.request("direct-layers", "transport.produce", produceBody.bytes())
	require.True(t, resp.Accepted)
	pp := newParamsReader(resp.Body)
	producerID, err := pp.str()
	require.NoError(t, err)

	traceBody := &paramsWriter{}
	traceBody.traceEventTypes([]producer.TraceEventType{producer.TraceEventKeyFrame, producer.TraceEventRTP})
	resp = rig.request(producerID, "producer.enableTraceEvent", traceBody.bytes())
	require.True(t, resp.Accepted)

	consumeBody := &paramsWriter{}
	consumeBody.str("consumer-layers")
	consumeBody.str(producerID)
	consumeBody.u8(2) // SVC
	consumeBody.boolean(false)
	consumeBody.u16(0) // empty sendParams list
	resp = rig.request("direct-layers", "transport.consume", consumeBody.bytes())
	require.True(t, resp.Accepted)
	cp := newParamsReader(resp.Body)
	consumerID, err := cp.str()
	require.NoError(t, err)
	require.Equal(t, "consumer-layers", consumerID)

	layersBody := &paramsWriter{}
	layersBody.i16(1)
	layersBody.i16(0)
	resp = rig.request(consumerID, "consumer.setPreferredLayers", layersBody.bytes())
	require.True(t, resp.Accepted)

	priorityBody := &paramsWriter{}
	priorityBody.i16(2)
	resp = rig.request(consumerID, "consumer.setPriority", priorityBody.bytes())
	require.True(t, resp.Accepted)

	resp = rig.request("unknown-consumer", "consumer.setPriority", priorityBody.bytes())
	require.False(t, resp.Accepted)
}

func TestWorkerCloseTearsDownSharedWebrtcSocketCleanly(t *testing.T) {
	s := portRangeSettings(40300, 40310)
	s.SharedWebrtcSocket = true
	rig := newTestRig(t, s)

	body := &paramsWriter{}
	body.str("router-shared")
	resp := rig.request(workerTargetID, "worker.createRouter", body.bytes())
	require.True(t, resp.Accepted)

	transportBody := &paramsWriter{}
	transportBody.str("shared-1")
	transportBody.strList(nil)
	transportBody.boolean(true)
	transportBody.boolean(false)
	resp = rig.request("router-shared", "router.createWebRtcTransport", transportBody.bytes())
	require.True(t, resp.Accepted)

	require.NoError(t, rig.w.Close())
}
