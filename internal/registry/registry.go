package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrServiceNotFound は指定された論理サービス名が登録されていないことを表す。
var ErrServiceNotFound = errors.New("サービスが登録されていません")

// ServiceDescriptor は転送先サービス1件の接続情報。
type ServiceDescriptor struct {
	// Name は論理サービス名（例: "fitness-api"）。
	Name string
	// BaseURL は転送先のベースURL（例: "https://api.example.com"）。
	BaseURL string
	// CredentialHeader は認証情報を載せるヘッダー名（例: "X-Api-Key"）。
	CredentialHeader string
	// CredentialValue は転送時に付与する認証情報の値。
	CredentialValue string
}

// Validate は必須項目が揃っているかを検証する。
func (d ServiceDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("サービス名が空です")
	}
	if strings.ContainsAny(d.Name, "/ ") {
		return fmt.Errorf("サービス名に使用できない文字が含まれています: %q", d.Name)
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return fmt.Errorf("ベースURLの解析に失敗: service=%s: %w", d.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ベースURLはhttpまたはhttpsである必要があります: service=%s, base_url=%q", d.Name, d.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("ベースURLにホストがありません: service=%s", d.Name)
	}
	if strings.TrimSpace(d.CredentialHeader) == "" {
		return fmt.Errorf("認証ヘッダー名が空です: service=%s", d.Name)
	}
	if d.CredentialValue == "" {
		return fmt.Errorf("認証情報が空です: service=%s", d.Name)
	}
	return nil
}

// Registry は論理サービス名で ServiceDescriptor を引くための不変の表。
// 構築後は書き込みが発生しないため、ロックなしで並行に参照できる。
type Registry struct {
	services map[string]ServiceDescriptor
}

// New は与えられた ServiceDescriptor から Registry を構築する。
// 必須項目の欠落や名前の重複（大文字小文字は区別しない）があればエラーを返す。
func New(descriptors ...ServiceDescriptor) (*Registry, error) {
	services := make(map[string]ServiceDescriptor, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(d.Name)
		if _, dup := services[key]; dup {
			return nil, fmt.Errorf("サービス名が重複しています: %s", d.Name)
		}
		services[key] = d
	}
	return &Registry{services: services}, nil
}

// Resolve は論理サービス名に対応する ServiceDescriptor を返す。
// 名前の照合は大文字小文字を区別しない。
func (r *Registry) Resolve(name string) (ServiceDescriptor, error) {
	d, ok := r.services[strings.ToLower(name)]
	if !ok {
		return ServiceDescriptor{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return d, nil
}

// Names は登録済みサービス名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for _, d := range r.services {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Len は登録済みサービス数を返す。
func (r *Registry) Len() int {
	return len(r.services)
}
