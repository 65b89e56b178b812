package course

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"image/png"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/sourcegraph/conc/pool"

	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
	"github.com/aifitworld/aifitworld-api/internal/pkg/logger"
)

const qrSize = 256

type illustration struct {
	Src    template.URL
	Width  int
	Height int
}

type pdfPage struct {
	Title         string
	Summary       string
	Generated     string
	Content       template.HTML
	Nutrition     template.HTML
	QR            template.URL
	Link          string
	Illustrations []illustration
}

var pdfTemplate = template.Must(template.New("course").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: "Helvetica Neue", Arial, sans-serif; color: #1f2937; margin: 32px; line-height: 1.5; }
  h1 { font-size: 26px; margin-bottom: 4px; }
  h2 { font-size: 20px; border-bottom: 2px solid #10b981; padding-bottom: 4px; margin-top: 32px; page-break-after: avoid; }
  h3 { font-size: 16px; margin-top: 20px; page-break-after: avoid; }
  h4 { font-size: 14px; color: #047857; }
  .meta { color: #6b7280; font-size: 12px; }
  .cover { display: flex; justify-content: space-between; align-items: flex-start; }
  .cover img { width: 110px; height: 110px; }
  .exercise-table { width: 100%; border-collapse: collapse; margin: 8px 0; font-size: 12px; }
  .exercise-table th, .exercise-table td { border: 1px solid #d1d5db; padding: 4px 8px; text-align: left; }
  .exercise-table th { background: #ecfdf5; }
  .highlight-box { background: #fef3c7; border-left: 4px solid #f59e0b; padding: 8px 12px; margin: 12px 0; }
  .gallery { display: flex; flex-wrap: wrap; gap: 12px; page-break-inside: avoid; }
  .gallery img { max-width: 48%; height: auto; border-radius: 6px; }
</style>
</head>
<body>
<div class="cover">
  <div>
    <h1>{{.Title}}</h1>
    <p class="meta">{{.Summary}}</p>
    <p class="meta">Generated {{.Generated}}</p>
  </div>
  {{if .QR}}<div><img src="{{.QR}}" alt="Open online"><p class="meta">{{.Link}}</p></div>{{end}}
</div>
{{if .Illustrations}}<div class="gallery">{{range .Illustrations}}<img src="{{.Src}}" width="{{.Width}}" height="{{.Height}}" alt="">{{end}}</div>{{end}}
{{.Content}}
{{if .Nutrition}}<h2>Nutrition</h2>
{{.Nutrition}}{{end}}
</body>
</html>
`))

// exportPDF renders the course and uploads the file, returning its URL.
func (s *Service) exportPDF(ctx context.Context, c *Course, req ExportRequest) (string, error) {
	opts := pricing.Normalize(c.Options.Options)
	page := pdfPage{
		Title:     c.Title,
		Summary:   fmt.Sprintf("%d weeks, %d sessions per week", opts.Weeks, opts.SessionsPerWeek),
		Generated: s.now().Format("January 2, 2006"),
		Content:   renderMarkdown(c.Content),
	}
	if c.Nutrition != "" {
		page.Nutrition = renderMarkdown(c.Nutrition)
	}
	if base := strings.TrimRight(s.cfg.PublicAppURL, "/"); base != "" {
		link := base + "/courses/" + c.ID.String()
		if qr, err := qrDataURI(link); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Msg("qr code skipped")
		} else {
			page.QR, page.Link = qr, link
		}
	}
	if req.Mode == pricing.PDFIllustrated && req.Images > 0 {
		page.Illustrations = s.illustrate(ctx, opts, req.Images)
	}

	var html bytes.Buffer
	if err := pdfTemplate.Execute(&html, page); err != nil {
		return "", err
	}
	pdf, err := s.renderer.RenderHTML(ctx, html.String())
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("courses/%s/%s/%s-%d.pdf", c.UserID, c.ID, req.Mode, s.now().UnixNano())
	if err := s.storage.Put(ctx, key, bytes.NewReader(pdf), "application/pdf"); err != nil {
		return "", err
	}
	return s.storage.GetURL(key), nil
}

// illustrate generates up to n images concurrently. Failed images are
// skipped; the export goes ahead with the rest.
func (s *Service) illustrate(ctx context.Context, opts pricing.Options, n int) []illustration {
	p := pool.NewWithResults[*illustration]().
		WithContext(ctx).
		WithMaxGoroutines(s.cfg.ImageConcurrency)

	for i := 0; i < n; i++ {
		p.Go(func(ctx context.Context) (*illustration, error) {
			raw, err := s.gen.GenerateImage(ctx, imagePrompt(opts, i))
			if err != nil {
				logger.FromContext(ctx).Warn().Err(err).Int("image", i).Msg("illustration skipped")
				return nil, nil
			}
			fitted, err := s.images.FitForPage(raw)
			if err != nil {
				logger.FromContext(ctx).Warn().Err(err).Int("image", i).Msg("illustration skipped")
				return nil, nil
			}
			return &illustration{
				Src:    template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(fitted.JPEG)),
				Width:  fitted.Width,
				Height: fitted.Height,
			}, nil
		})
	}

	results, _ := p.Wait()
	out := make([]illustration, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if len(out) < n {
		logger.FromContext(ctx).Warn().Int("requested", n).Int("generated", len(out)).Msg("export has fewer illustrations than requested")
	}
	return out
}

func qrDataURI(link string) (template.URL, error) {
	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(qrSize)); err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}
