package forwarder

import "strings"

// QueryParam はクエリ文字列の1要素。
// Key と Value はエスケープされたままの生の文字列を保持し、転送時にそのまま連結する。
type QueryParam struct {
	// Key はパラメータ名。
	Key string
	// Value はパラメータ値。
	Value string
	// HasValue は "=" が含まれていたかどうか（"flag" と "flag=" を区別する）。
	HasValue bool
}

// ParseQuery は生のクエリ文字列を出現順に分解する。
// 同じキーの繰り返しや空のキーも保持し、デコードは行わない。
func ParseQuery(rawQuery string) []QueryParam {
	if rawQuery == "" {
		return nil
	}
	parts := strings.Split(rawQuery, "&")
	params := make([]QueryParam, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		params = append(params, QueryParam{Key: key, Value: value, HasValue: found})
	}
	return params
}

// EncodeQuery は ParseQuery の結果を元の順序のままクエリ文字列に戻す。
func EncodeQuery(params []QueryParam) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		if p.HasValue {
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

// BuildURL は転送先URLを組み立てる。
// baseURL と path はちょうど1つの "/" で連結し、クエリは順序と重複を保ったまま付与する。
func BuildURL(baseURL, path string, query []QueryParam) string {
	target := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if q := EncodeQuery(query); q != "" {
		target += "?" + q
	}
	return target
}
