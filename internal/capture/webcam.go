package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

// V4L2 FourCC codes for the two formats classroom webcams actually offer.
const (
	fourccMJPEG = webcam.PixelFormat(0x47504A4D) // 'MJPG'
	fourccYUYV  = webcam.PixelFormat(0x56595559) // 'YUYV'
)

// WebcamSource streams frames from a V4L2 device. MJPEG is preferred when
// the device offers it; otherwise YUYV frames are converted in-process.
type WebcamSource struct {
	cam    *webcam.Webcam
	device string
	format webcam.PixelFormat
	width  int
	height int
	index  int
	closed bool
}

// OpenWebcam tries each device in order and returns a source on the first
// one that opens and negotiates a usable format.
func OpenWebcam(devices []string, width, height int) (*WebcamSource, error) {
	var lastErr error
	for _, device := range devices {
		src, err := openDevice(device, width, height)
		if err != nil {
			lastErr = err
			continue
		}
		return src, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no camera devices configured")
	}
	return nil, errors.Wrap(lastErr, "no usable camera found")
}

func openDevice(device string, width, height int) (*WebcamSource, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, errors.Wrapf(err, "can not open device %s", device)
	}

	format := pickFormat(cam.GetSupportedFormats())
	if format == 0 {
		cam.Close()
		return nil, errors.Errorf("device %s offers neither MJPEG nor YUYV", device)
	}

	format, w, h, err := cam.SetImageFormat(format, uint32(width), uint32(height))
	if err != nil {
		cam.Close()
		return nil, errors.Wrapf(err, "can not set image format on %s", device)
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, errors.Wrapf(err, "can not start streaming on %s", device)
	}

	return &WebcamSource{
		cam:    cam,
		device: device,
		format: format,
		width:  int(w),
		height: int(h),
	}, nil
}

// pickFormat prefers MJPEG (cheap to decode, most UVC cameras compress in
// hardware) and falls back to raw YUYV.
func pickFormat(formats map[webcam.PixelFormat]string) webcam.PixelFormat {
	if _, ok := formats[fourccMJPEG]; ok {
		return fourccMJPEG
	}
	if _, ok := formats[fourccYUYV]; ok {
		return fourccYUYV
	}
	return 0
}

// Device reports which /dev/videoN the source ended up on.
func (s *WebcamSource) Device() string { return s.device }

// Next blocks until the camera delivers a frame that passes the light-level
// gate, the context is cancelled, or the device fails.
func (s *WebcamSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		// Short waits keep cancellation responsive; a timeout just loops.
		err := s.cam.WaitForFrame(1)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return Frame{}, errors.Wrap(err, "frame wait failed")
		}

		raw, err := s.cam.ReadFrame()
		if err != nil {
			return Frame{}, errors.Wrap(err, "read frame failed")
		}
		if len(raw) == 0 || !s.framePassesGate(raw) {
			continue
		}

		img, err := s.decode(raw)
		if err != nil {
			// A torn frame from the driver; skip it rather than abort.
			continue
		}

		s.index++
		return Frame{Index: s.index, Img: img}, nil
	}
}

// framePassesGate applies the light-level gate to raw YUYV only: half its
// bytes are luma, so the histogram tracks scene brightness. MJPEG bytes are
// compressed and say nothing about the scene, so they pass through.
func (s *WebcamSource) framePassesGate(raw []byte) bool {
	if s.format != fourccYUYV {
		return true
	}
	return hasGoodLightLevel(raw)
}

func (s *WebcamSource) decode(raw []byte) (image.Image, error) {
	if s.format == fourccMJPEG {
		img, err := jpeg.Decode(bytes.NewReader(raw))
		return img, errors.Wrap(err, "mjpeg decode failed")
	}
	return yuyvToImage(raw, s.width, s.height)
}

func (s *WebcamSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cam.Close()
}
