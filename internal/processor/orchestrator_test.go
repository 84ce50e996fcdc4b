package processor

import (
	"context"
	stderrors "errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

func invoicePNG(t *testing.T) []byte {
	return encodePNG(t, textCanvas(200, 60, "INVOICE 4821", "TOTAL 120.00"))
}

func TestExtractClearDocument(t *testing.T) {
	engine := &stubEngine{answer: constant("INVOICE 4821\nTOTAL 120.00  \n")}
	o := newTestOrchestrator(t, engine, nil)

	out, err := o.Extract(context.Background(), invoicePNG(t), "eng")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.OK())
	assert.Equal(t, "INVOICE 4821\nTOTAL 120.00", out.Text)
	assert.Equal(t, out.Text, out.Message())
	assert.Empty(t, out.DiagnosticMessage)
	assert.Nil(t, out.Err)
	assert.Equal(t, "eng", out.LanguageGroup)
	assert.Equal(t, len([]rune(out.Text)), out.TextLength)
	assert.GreaterOrEqual(t, out.Score, DefaultMinScore)
	assert.LessOrEqual(t, out.Attempts, 16)
	assert.Equal(t, out.Attempts, out.Succeeded)
	assert.Positive(t, out.ProcessingTime)
}

func TestExtractRecoversThroughBlurProfile(t *testing.T) {
	engine := &stubEngine{answer: func(_ context.Context, _ LanguageGroup, p ConfigProfile) (string, error) {
		if p.Name == ProfileBlurry {
			return "INVOICE", nil
		}
		return "", nil
	}}
	o := newTestOrchestrator(t, engine, nil)

	out, err := o.Extract(context.Background(), invoicePNG(t), "")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "INVOICE", out.Text)
	assert.Contains(t, out.Strategy, "/"+ProfileBlurry)

	sharp := newTestOrchestrator(t, &stubEngine{answer: constant("INVOICE 4821")}, nil)
	clear, err := sharp.Extract(context.Background(), invoicePNG(t), "")
	require.NoError(t, err)
	assert.Less(t, out.Score, clear.Score)
}

func TestExtractBlankImageReportsNoEdges(t *testing.T) {
	o := newTestOrchestrator(t, &stubEngine{answer: constant("")}, nil)

	out, err := o.Extract(context.Background(), encodePNG(t, blank(200, 80, 255)), "eng")
	require.NoError(t, err)

	assert.Equal(t, StatusNoText, out.Status)
	assert.Equal(t, DefectNoEdges, out.Defect)
	assert.Empty(t, out.Text)
	assert.Equal(t, DefectNoEdges.Message(), out.Message())
	require.NotNil(t, out.Err)
	assert.Equal(t, errors.ErrorNoUsableText, out.Err.Code)
}

func TestExtractDarkImageReportsDark(t *testing.T) {
	o := newTestOrchestrator(t, &stubEngine{answer: constant("~~")}, nil)
	dark := darken(textCanvas(90, 42, "INVOICE 4821", "TOTAL 120.00", "PAID CASH"), 0.2)

	out, err := o.Extract(context.Background(), encodePNG(t, dark), "eng")
	require.NoError(t, err)
	assert.Equal(t, StatusNoText, out.Status)
	assert.Equal(t, DefectDark, out.Defect)
	assert.Equal(t, DefectDark.Message(), out.DiagnosticMessage)
}

func TestExtractManyLanguagesIsBounded(t *testing.T) {
	engine := &stubEngine{answer: constant("INVOICE 4821")}
	o := newTestOrchestrator(t, engine, nil)

	out, err := o.Extract(context.Background(), invoicePNG(t), "eng,amh,ara,fra,deu,spa,ita,por,rus,tur")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 16, out.Attempts)
	assert.EqualValues(t, 16, engine.calls.Load())
}

func TestExtractSurvivesPanickingStrategies(t *testing.T) {
	engine := &stubEngine{answer: func(_ context.Context, _ LanguageGroup, p ConfigProfile) (string, error) {
		switch p.Name {
		case ProfileDocument:
			panic("segfault in engine")
		case ProfileSingleLine:
			return "", stderrors.New("engine error")
		}
		return "INVOICE 4821", nil
	}}
	o := newTestOrchestrator(t, engine, func(opts *Options) { opts.MaxAttempts = 64 })

	out, err := o.Extract(context.Background(), invoicePNG(t), "eng")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "INVOICE 4821", out.Text)
	assert.Equal(t, out.Attempts-2, out.Succeeded)
}

func TestExtractTimeout(t *testing.T) {
	engine := &stubEngine{answer: func(ctx context.Context, _ LanguageGroup, _ ConfigProfile) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	o := newTestOrchestrator(t, engine, func(opts *Options) { opts.Timeout = 150 * time.Millisecond })

	start := time.Now()
	out, err := o.Extract(context.Background(), invoicePNG(t), "eng")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, StatusTimeout, out.Status)
	assert.Equal(t, MessageTimeout, out.Message())
	assert.Empty(t, out.Text)
	require.NotNil(t, out.Err)
	assert.Equal(t, errors.ErrorProcessingTimeout, out.Err.Code)
}

func TestExtractCallerCancel(t *testing.T) {
	o := newTestOrchestrator(t, &stubEngine{answer: constant("INVOICE 4821")}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := o.Extract(ctx, invoicePNG(t), "eng")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestExtractEngineUnavailable(t *testing.T) {
	engine := &stubEngine{answer: func(context.Context, LanguageGroup, ConfigProfile) (string, error) {
		return "", ErrEngineUnavailable
	}}
	o := newTestOrchestrator(t, engine, nil)

	out, err := o.Extract(context.Background(), invoicePNG(t), "eng")
	assert.Nil(t, out)
	var pe *errors.ProcessingError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, errors.ErrorEngineUnavailable, pe.Code)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestExtractUndecodableInput(t *testing.T) {
	engine := &stubEngine{answer: constant("INVOICE")}
	o := newTestOrchestrator(t, engine, nil)

	out, err := o.Extract(context.Background(), []byte("definitely not an image"), "eng")
	require.NoError(t, err)
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, MessageDecodeFailed, out.Message())
	require.NotNil(t, out.Err)
	assert.Equal(t, errors.ErrorDecodeFailed, out.Err.Code)
	assert.Zero(t, engine.calls.Load())
}

func TestExtractDiagnosesOncePerFailure(t *testing.T) {
	o := newTestOrchestrator(t, &stubEngine{answer: constant("")}, nil)

	var calls atomic.Int32
	o.diagnose = func(g *image.Gray) Diagnosis {
		calls.Add(1)
		return Diagnose(g, DefaultDiagnosticThresholds())
	}

	_, err := o.Extract(context.Background(), encodePNG(t, blank(120, 40, 255)), "eng")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	o.executor.engine = &stubEngine{answer: constant("INVOICE 4821")}
	_, err = o.Extract(context.Background(), invoicePNG(t), "eng")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "success path never diagnoses")
}

func TestCheckEngine(t *testing.T) {
	o := newTestOrchestrator(t, &stubEngine{answer: constant("")}, nil)
	assert.NoError(t, o.CheckEngine(context.Background()))

	o.executor.engine = &probingEngine{err: ErrEngineUnavailable}
	err := o.CheckEngine(context.Background())
	var pe *errors.ProcessingError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, errors.ErrorEngineUnavailable, pe.Code)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a\nb", CleanText("  a  \r\nb\t\n"))
	assert.Equal(t, "a\n\nb", CleanText("a\n\n\n\n\nb"))
	assert.Equal(t, "", CleanText(" \n \n"))
}

type probingEngine struct {
	stubEngine
	err error
}

func (p *probingEngine) Probe(context.Context) error { return p.err }

type listingEngine struct {
	stubEngine
	installed []string
}

func (l *listingEngine) Languages() ([]string, error) { return l.installed, nil }

func TestExtractPlansOnlyInstalledLanguages(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	engine := &listingEngine{installed: []string{"eng", "ara"}}
	engine.answer = func(_ context.Context, g LanguageGroup, _ ConfigProfile) (string, error) {
		mu.Lock()
		seen[g.String()] = true
		mu.Unlock()
		return "INVOICE 4821", nil
	}
	o := newTestOrchestrator(t, engine, nil)

	out, err := o.Extract(context.Background(), invoicePNG(t), "eng+amh")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "eng", out.LanguageGroup)
	assert.Equal(t, map[string]bool{"eng": true}, seen)
	assert.Equal(t, 11, out.Attempts)
}

func TestExtractFallsBackToEnglishWhenNothingRequestedIsInstalled(t *testing.T) {
	engine := &listingEngine{stubEngine: stubEngine{answer: constant("INVOICE 4821")}, installed: []string{"eng"}}
	o := newTestOrchestrator(t, engine, nil)

	out, err := o.Extract(context.Background(), invoicePNG(t), "amh")
	require.NoError(t, err)
	assert.Equal(t, "eng", out.LanguageGroup)
}

func TestExtractKeepsGroupsWhenEnglishIsMissingToo(t *testing.T) {
	engine := &listingEngine{stubEngine: stubEngine{answer: constant("INVOICE 4821")}, installed: []string{"fra"}}
	o := newTestOrchestrator(t, engine, nil)

	out, err := o.Extract(context.Background(), invoicePNG(t), "amh")
	require.NoError(t, err)
	assert.Equal(t, "amh", out.LanguageGroup)
}
