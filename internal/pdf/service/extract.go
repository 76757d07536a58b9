package service

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Extractor returns the cleaned text of every page, in page order.
type Extractor interface {
	ExtractPages(r io.ReadSeeker) ([]string, error)
}

// PDFCPUExtractor reads page content streams with pdfcpu.
type PDFCPUExtractor struct{}

func (PDFCPUExtractor) ExtractPages(r io.ReadSeeker) ([]string, error) {
	conf := pdfmodel.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(r, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	pages := make([]string, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		content, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || content == nil {
			// Pages without a content stream still count.
			continue
		}
		data, err := io.ReadAll(content)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", pageNr, err)
		}
		pages[pageNr-1] = CleanText(ContentStreamText(data))
	}
	return pages, nil
}

// CleanText collapses whitespace and drops NUL and replacement characters.
func CleanText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "�", "")
	return strings.TrimSpace(text)
}

// ContentStreamText pulls the shown strings out of a page content stream.
// It understands the text-showing operators (Tj, TJ, ', ") and treats line
// moves as whitespace. Strings are decoded byte-per-rune, which is right for
// the standard single-byte encodings.
func ContentStreamText(data []byte) string {
	var sb strings.Builder
	var operands []string
	inArray := false

	separate := func(sep byte) {
		if sb.Len() == 0 {
			return
		}
		if last := sb.String()[sb.Len()-1]; last != ' ' && last != '\n' {
			sb.WriteByte(sep)
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '(':
			s, n := readLiteral(data[i:])
			operands = append(operands, s)
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '<':
			s, n := readHexString(data[i:])
			operands = append(operands, s)
			i += n
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '[':
			inArray = true
			i++
		case c == ']':
			inArray = false
			i++
		case c == '/':
			i++
			for i < len(data) && isRegular(data[i]) {
				i++
			}
		case !isRegular(c):
			i++
		default:
			start := i
			for i < len(data) && isRegular(data[i]) {
				i++
			}
			word := string(data[start:i])
			if f, err := strconv.ParseFloat(word, 64); err == nil {
				// Large negative kerning inside TJ is a word gap.
				if inArray && f < -200 {
					operands = append(operands, " ")
				}
				continue
			}
			switch word {
			case "Tj", "TJ":
				sb.WriteString(strings.Join(operands, ""))
			case "'", `"`:
				separate('\n')
				sb.WriteString(strings.Join(operands, ""))
			case "T*":
				separate('\n')
			case "Td", "TD", "Tm", "ET":
				separate(' ')
			}
			operands = operands[:0]
		}
	}
	return sb.String()
}

func isRegular(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0,
		'(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

// readLiteral decodes a (...) string starting at data[0] and returns it with
// the number of bytes consumed.
func readLiteral(data []byte) (string, int) {
	var sb strings.Builder
	depth := 0
	i := 0
	for ; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '(':
			if depth > 0 {
				sb.WriteRune(rune(c))
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteRune(rune(c))
		case c == '\\' && i+1 < len(data):
			i++
			switch e := data[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '\r':
				if i+1 < len(data) && data[i+1] == '\n' {
					i++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(data[i]-'0')
					}
					sb.WriteRune(rune(val & 0xff))
				} else {
					sb.WriteRune(rune(e))
				}
			}
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String(), i
}

func readHexString(data []byte) (string, int) {
	end := bytes.IndexByte(data, '>')
	if end < 0 {
		return "", len(data)
	}
	var digits []byte
	for _, c := range data[1:end] {
		if isHexDigit(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	var sb strings.Builder
	for k := 0; k < len(digits); k += 2 {
		v, _ := strconv.ParseUint(string(digits[k:k+2]), 16, 8)
		sb.WriteRune(rune(v))
	}
	return sb.String(), end + 1
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
