package certrender

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nexston/bekola-backend/internal/platform/logger"
)

const ContentType = "image/png"

// Input carries everything printed on a certificate.
type Input struct {
	FullName    string
	Gender      string
	CourseTitle string
	ReferenceNo string
	StartDate   time.Time
	EndDate     time.Time
	IssueDate   time.Time
	Issuer      string
}

type Renderer interface {
	Render(ctx context.Context, in Input) ([]byte, error)
	// Extension is the file extension of rendered artifacts, without the dot.
	Extension() string
}

type Options struct {
	// BackgroundPath is an optional image stretched over the page.
	BackgroundPath string `yaml:"background_path"`
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
}

type pngRenderer struct {
	log        *logger.Logger
	width      int
	height     int
	background image.Image
	regular    *truetype.Font
	bold       *truetype.Font
}

func New(log *logger.Logger, opts Options) (Renderer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Width <= 0 {
		opts.Width = 1240
	}
	if opts.Height <= 0 {
		opts.Height = 1754
	}
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	r := &pngRenderer{
		log:     log.With("service", "CertificateRenderer"),
		width:   opts.Width,
		height:  opts.Height,
		regular: regular,
		bold:    bold,
	}
	if p := strings.TrimSpace(opts.BackgroundPath); p != "" {
		bg, err := loadBackground(p, opts.Width, opts.Height)
		if err != nil {
			return nil, err
		}
		r.background = bg
		r.log.Info("Loaded certificate background", "path", p)
	}
	return r, nil
}

func (r *pngRenderer) Extension() string { return "png" }

func (r *pngRenderer) Render(ctx context.Context, in Input) ([]byte, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if strings.TrimSpace(in.ReferenceNo) == "" {
		return nil, fmt.Errorf("reference number required")
	}
	if in.IssueDate.IsZero() {
		in.IssueDate = time.Now().UTC()
	}
	if strings.TrimSpace(in.Issuer) == "" {
		in.Issuer = "Walnex"
	}

	w, h := float64(r.width), float64(r.height)
	scale := w / 595.0
	dc := gg.NewContext(r.width, r.height)

	dc.SetColor(color.White)
	dc.Clear()
	if r.background != nil {
		dc.DrawImage(r.background, 0, 0)
	}

	margin := 80 * scale
	dc.SetColor(color.Black)

	dc.SetFontFace(r.face(r.regular, 11*scale))
	dc.DrawStringAnchored("Date: "+in.IssueDate.Format("02/01/2006"), 50*scale, 50*scale, 0, 1)
	dc.DrawStringAnchored("Ref: "+in.ReferenceNo, w-50*scale, 50*scale, 1, 1)

	dc.SetFontFace(r.face(r.bold, 20*scale))
	dc.DrawStringAnchored("TO WHOMSOEVER IT MAY CONCERN", w/2, 120*scale, 0.5, 1)

	subject, object, possessive := pronouns(in.Gender)
	paragraphs := []string{
		fmt.Sprintf("This is to certify that %s%s has successfully completed %s internship program in %s from %s to %s at %s.",
			salutation(in.Gender), DisplayName(in.FullName), possessive, in.CourseTitle,
			in.StartDate.Format("02 January 2006"), in.EndDate.Format("02 January 2006"), in.Issuer),
		fmt.Sprintf("During the internship period, we found %s to be extremely inquisitive, hardworking, and disciplined. "+
			"%s demonstrated strong interest and curiosity in understanding the functions of our core development process "+
			"and consistently put in dedicated effort.", object, cases.Title(language.Und).String(subject)),
		fmt.Sprintf("We appreciate %s enthusiasm and commitment throughout the internship and wish %s every success in %s future endeavors.",
			possessive, object, possessive),
	}

	dc.SetFontFace(r.face(r.regular, 12*scale))
	lineSpacing := 1.5
	y := 180 * scale
	for _, p := range paragraphs {
		lines := dc.WordWrap(p, w-2*margin)
		dc.DrawStringWrapped(p, margin, y, 0, 0, w-2*margin, lineSpacing, gg.AlignLeft)
		y += float64(len(lines))*dc.FontHeight()*lineSpacing + 10*scale
	}

	dc.SetFontFace(r.face(r.bold, 12*scale))
	dc.DrawString("Authorized Signatory", margin, h-120*scale)
	dc.SetFontFace(r.face(r.regular, 11*scale))
	dc.DrawString("Walnex / Nexston", margin, h-100*scale)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *pngRenderer) face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// DisplayName title-cases each word of a person's name.
func DisplayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.Und).String(name)
}

func salutation(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male", "m":
		return "Mr. "
	case "female", "f":
		return "Ms. "
	default:
		return ""
	}
}

func pronouns(gender string) (subject, object, possessive string) {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male", "m":
		return "he", "him", "his"
	case "female", "f":
		return "she", "her", "her"
	default:
		return "they", "them", "their"
	}
}

func loadBackground(path string, width, height int) (image.Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate background: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode certificate background: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst, nil
}
