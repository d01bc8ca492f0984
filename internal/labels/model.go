package labels

import (
	"fmt"
	"strings"
)

// Encoding は出力CSVの文字コード
type Encoding string

const (
	EncodingUTF8     Encoding = "utf-8"
	EncodingShiftJIS Encoding = "shift_jis" // ラベルエディタ(Windows)向け CP932
)

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "shift_jis", "sjis", "cp932":
		return EncodingShiftJIS, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", s)
}

func (e Encoding) ContentType() string {
	if e == EncodingShiftJIS {
		return "text/csv; charset=Shift_JIS"
	}
	return "text/csv; charset=utf-8"
}

// Row: ラベル1枚分
type Row struct {
	Code     string // management code (コピー別なら連番付き)
	Title    string
	Authors  string
	Category string
}

func (r Row) record() []string {
	return []string{r.Code, r.Title, r.Authors, r.Category}
}
