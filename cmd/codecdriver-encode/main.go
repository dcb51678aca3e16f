package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/codecdriver/codecsession"
	"github.com/xaionaro-go/codecdriver/codecsession/fakesession"
	"github.com/xaionaro-go/codecdriver/codecsession/libavsession"
	"github.com/xaionaro-go/codecdriver/colorformat"
	"github.com/xaionaro-go/codecdriver/frametable"
	"github.com/xaionaro-go/codecdriver/types"
	"github.com/xaionaro-go/codecdriver/videoenc"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/typing"
	"golang.org/x/sync/errgroup"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [options] <output-file>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	encoderName := pflag.String("encoder", "libx264", "the name of the encoder")
	codec := pflag.String("codec", string(videoenc.CodecH264), "the codec of the output stream")
	useFake := pflag.Bool("fake", false, "use an in-memory fake codec instead of libav (the output is the raw input)")
	inputPath := pflag.String("input", "", "a file with raw I420 frames ('-' for stdin); a test pattern is generated if empty")
	resolution := types.Resolution{Width: 640, Height: 360}
	pflag.Var(&resolution, "resolution", "the resolution of the input frames")
	frameRate := types.Rational{Num: 30, Den: 1}
	pflag.Var(&frameRate, "fps", "the frame rate of the input frames (e.g. 30, 30000/1001, ~29.97)")
	bitrate := pflag.Uint64("bitrate", videoenc.DefaultBitrate, "the target bitrate")
	keyFrameInterval := pflag.Float64("keyframe-interval", 2, "the distance between key frames, in seconds")
	frameCount := pflag.Uint64("frames", 300, "the amount of frames to generate (when no input is given)")
	pflag.Parse()
	if len(pflag.Args()) != 1 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt)
	defer cancelFn()

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	factory, desc, err := newFactory(ctx, *useFake, *encoderName)
	if err != nil {
		l.Fatal(err)
	}

	outputFile, err := os.Create(pflag.Arg(0))
	if err != nil {
		l.Fatalf("unable to create the output file: %v", err)
	}
	defer outputFile.Close()

	var source io.Reader
	switch *inputPath {
	case "":
	case "-":
		source = os.Stdin
	default:
		f, err := os.Open(*inputPath)
		if err != nil {
			l.Fatalf("unable to open the input file: %v", err)
		}
		defer f.Close()
		source = f
	}

	sink := &fileSink{Writer: outputFile}
	enc := videoenc.New(factory, desc, sink,
		videoenc.OptionBitrate{Bitrate: *bitrate},
		videoenc.OptionKeyFrameInterval{Interval: *keyFrameInterval},
	)
	if err := enc.Open(ctx); err != nil {
		l.Fatal(err)
	}
	defer enc.Close(ctx)
	if err := enc.Start(ctx); err != nil {
		l.Fatal(err)
	}
	if err := enc.Configure(ctx, videoenc.InputState{
		Codec:       videoenc.Codec(*codec),
		Resolution:  resolution,
		PixelFormat: colorformat.PixelFormatI420,
		FrameRate:   frameRate,
	}); err != nil {
		l.Fatal(err)
	}

	ctx, stopStats := context.WithCancel(ctx)
	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.Go(func() error {
		defer stopStats()
		return feed(ctx, enc, source, resolution, frameRate, *frameCount)
	})
	errGroup.Go(func() error {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				fmt.Printf("%s; written: %s\n", enc.Stats(), humanize.Bytes(sink.Written()))
			}
		}
	})
	if err := errGroup.Wait(); err != nil {
		l.Fatal(err)
	}
	fmt.Printf("%s; written: %s\n", enc.Stats(), humanize.Bytes(sink.Written()))
}

func newFactory(
	ctx context.Context,
	useFake bool,
	encoderName string,
) (codecsession.Factory, codecsession.Descriptor, error) {
	if useFake {
		return fakesession.NewFactory(fakesession.Params{}), codecsession.Descriptor{
			Name: "fake",
			ColorFormats: []colorformat.ColorFormat{
				colorformat.ColorFormatYUV420Planar,
			},
		}, nil
	}

	libavsession.RedirectLogs(ctx)
	desc, err := libavsession.Describe(ctx, encoderName)
	if err != nil {
		return nil, codecsession.Descriptor{}, err
	}
	return libavsession.NewFactory(), desc, nil
}

func feed(
	ctx context.Context,
	enc *videoenc.Encoder,
	source io.Reader,
	resolution types.Resolution,
	frameRate types.Rational,
	frameCount uint64,
) error {
	w, h := int(resolution.Width), int(resolution.Height)
	frameSize := w*h + 2*((w+1)/2)*((h+1)/2)
	frameDuration := time.Duration(float64(time.Second) / frameRate.Float64())
	payload := make([]byte, frameSize)

	for i := uint64(0); source != nil || i < frameCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if source != nil {
			if _, err := io.ReadFull(source, payload); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					break
				}
				return fmt.Errorf("unable to read a frame: %w", err)
			}
		} else {
			fillTestPattern(payload, w, h, i)
		}

		err := enc.HandleInput(ctx, &videoenc.Input{
			PTS:      typing.Opt(time.Duration(i) * frameDuration),
			Duration: typing.Opt(frameDuration),
			Payload:  payload,
		})
		if err != nil {
			return fmt.Errorf("unable to encode frame #%d: %w", i, err)
		}
	}
	return enc.Finish(ctx)
}

func fillTestPattern(payload []byte, w, h int, frameIdx uint64) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			payload[y*w+x] = byte(x + y + int(frameIdx))
		}
	}
	chroma := payload[w*h:]
	for i := range chroma {
		chroma[i] = 128
	}
}

type fileSink struct {
	Writer io.Writer

	locker  sync.Mutex
	written uint64
}

var _ videoenc.Listener = (*fileSink)(nil)

func (s *fileSink) FinishedOutput(
	ctx context.Context,
	frame *frametable.Frame,
	out videoenc.Output,
) error {
	if out.Dropped {
		logger.Warnf(ctx, "frame %s was dropped by the codec", frame)
		return nil
	}
	s.locker.Lock()
	defer s.locker.Unlock()
	n, err := s.Writer.Write(out.Payload)
	s.written += uint64(n)
	return err
}

func (s *fileSink) Renegotiated(
	ctx context.Context,
	desc videoenc.OutputDescription,
) error {
	logger.Infof(ctx, "output: %s %s@%s %sbps", desc.MIMEType, desc.Resolution, desc.FrameRate, humanize.SI(float64(desc.Bitrate), ""))
	return nil
}

func (s *fileSink) FatalError(
	ctx context.Context,
	kind videoenc.ErrorKind,
	err error,
) {
	logger.Errorf(ctx, "%s error: %v", kind, err)
}

func (s *fileSink) FrameError(
	ctx context.Context,
	kind videoenc.ErrorKind,
	err error,
) {
	logger.Warnf(ctx, "dropped a frame: %s error: %v", kind, err)
}

func (s *fileSink) Written() uint64 {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.written
}
