package stream

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"go.viam.com/test"
	goutils "go.viam.com/utils"

	"go.viam.com/flatten/internal/capture"
	"go.viam.com/flatten/logging"
)

func testFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), 90, 255})
		}
	}
	data, err := capture.EncodeJPEG(img, 80)
	test.That(t, err, test.ShouldBeNil)
	return data
}

func TestRTPTimestamp(t *testing.T) {
	test.That(t, rtpTimestamp(0), test.ShouldEqual, uint32(0))
	test.That(t, rtpTimestamp(time.Second), test.ShouldEqual, uint32(90000))
	test.That(t, rtpTimestamp(time.Second/10), test.ShouldEqual, uint32(9000))
	test.That(t, normalizePath("stream/"), test.ShouldEqual, "/stream")
}

func TestWriteBeforeStart(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", DefaultMountPoint, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.WriteFrame(testFrame(t)), test.ShouldBeError, ErrNotRunning)
}

func TestCloseBeforeStart(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", DefaultMountPoint, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	s.Close()
	s.Close()
	test.That(t, s.WriteFrame(testFrame(t)), test.ShouldBeError, ErrNotRunning)
}

func TestCloseAfterFailedStart(t *testing.T) {
	port, err := goutils.TryReserveRandomPort()
	test.That(t, err, test.ShouldBeNil)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	first, err := NewServer(addr, DefaultMountPoint, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Start(), test.ShouldBeNil)
	defer first.Close()

	second, err := NewServer(addr, DefaultMountPoint, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Start(), test.ShouldNotBeNil)
	second.Close()
	test.That(t, second.WriteFrame(testFrame(t)), test.ShouldBeError, ErrNotRunning)
}

func TestPlayStream(t *testing.T) {
	port, err := goutils.TryReserveRandomPort()
	test.That(t, err, test.ShouldBeNil)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	s, err := NewServer(addr, "stream", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Start(), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()
	defer func() {
		cancel()
		test.That(t, <-runErr, test.ShouldBeNil)
		test.That(t, s.WriteFrame(testFrame(t)), test.ShouldBeError, ErrNotRunning)
	}()

	transport := gortsplib.TransportTCP
	other := gortsplib.Client{Transport: &transport}

	missing, err := base.ParseURL("rtsp://" + addr + "/other")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, other.Start(missing.Scheme, missing.Host), test.ShouldBeNil)
	_, _, err = other.Describe(missing)
	test.That(t, err, test.ShouldNotBeNil)
	other.Close()

	u, err := base.ParseURL("rtsp://" + addr + DefaultMountPoint)
	test.That(t, err, test.ShouldBeNil)
	c := gortsplib.Client{Transport: &transport}
	test.That(t, c.Start(u.Scheme, u.Host), test.ShouldBeNil)
	defer c.Close()

	desc, _, err := c.Describe(u)
	test.That(t, err, test.ShouldBeNil)
	var forma *format.MJPEG
	medi := desc.FindFormat(&forma)
	test.That(t, medi, test.ShouldNotBeNil)

	_, err = c.Setup(desc.BaseURL, medi, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	got := make(chan *rtp.Packet, 64)
	c.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		select {
		case got <- pkt:
		default:
		}
	})
	_, err = c.Play(nil)
	test.That(t, err, test.ShouldBeNil)

	frame := testFrame(t)
	var pkt *rtp.Packet
	for i := 0; i < 50 && pkt == nil; i++ {
		test.That(t, s.WriteFrame(frame), test.ShouldBeNil)
		select {
		case pkt = <-got:
		case <-time.After(100 * time.Millisecond):
		}
	}
	test.That(t, pkt, test.ShouldNotBeNil)
	test.That(t, pkt.PayloadType, test.ShouldEqual, uint8(26))
}

func TestLookup(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", "/stream", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	_, ok := s.lookup("stream")
	test.That(t, ok, test.ShouldBeFalse)

	s.stream = &gortsplib.ServerStream{}
	for _, p := range []string{"stream", "/stream", "/stream/", "stream/trackID=0"} {
		_, ok := s.lookup(p)
		test.That(t, ok, test.ShouldBeTrue)
	}
	for _, p := range []string{"", "/streams", "/other/stream"} {
		_, ok := s.lookup(p)
		test.That(t, ok, test.ShouldBeFalse)
	}
}
