package export

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrPrinterDisabled is returned when browser printing is not configured.
var ErrPrinterDisabled = errors.New("browser pdf printing is disabled")

// Printer turns a printable HTML document into PDF bytes.
type Printer interface {
	PrintPDF(ctx context.Context, htmlDoc string) ([]byte, error)
}

// DisabledPrinter always fails with ErrPrinterDisabled.
type DisabledPrinter struct{}

func (DisabledPrinter) PrintPDF(context.Context, string) ([]byte, error) {
	return nil, ErrPrinterDisabled
}

// BrowserPrinter prints through a headless Chrome started per call.
// ControlURL, when set, connects to an already running browser instead.
type BrowserPrinter struct {
	Bin        string
	ControlURL string
}

func (p BrowserPrinter) PrintPDF(ctx context.Context, htmlDoc string) ([]byte, error) {
	controlURL := p.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if p.Bin != "" {
			l = l.Bin(p.Bin)
		}
		defer l.Cleanup()
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetDocumentContent(htmlDoc); err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	r, err := page.PDF(&proto.PagePrintToPDF{
		PaperWidth:        f64(8.5),
		PaperHeight:       f64(11),
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return io.ReadAll(r)
}

func f64(v float64) *float64 { return &v }
