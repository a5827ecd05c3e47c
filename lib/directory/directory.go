// Package directory exposes the few LDAP operations identity
// reconciliation needs: equality search by matriculation number or full
// name, and a replace-modify for matriculation corrections.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/directory")

const DefaultBaseDN = "ou=people,dc=quixada,dc=ufc,dc=br"

// Entry is the slice of a directory person record this system reads.
type Entry struct {
	DN           string
	UID          string
	NomeCompleto string
	Matricula    string
	Curso        string
	Semestre     string
	Siape        string
	Cargo        string
}

type Config struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	BaseDN   string `json:"base_dn"`
}

// Client is a bound LDAP connection. It is acquired once per run and
// must be released with Close on every exit path.
type Client struct {
	conn   *ldap.Conn
	baseDN string
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	ctx, span := tracer.Start(ctx, "Dial")
	defer span.End()

	baseDN := cfg.BaseDN
	if baseDN == "" {
		baseDN = DefaultBaseDN
	}

	url := fmt.Sprintf("ldap://%s:%d", cfg.Server, cfg.Port)
	span.SetAttributes(attribute.String("url", url))

	conn, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: 5 * time.Second}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dial ldap server")
		return nil, fmt.Errorf("falha ao conectar ao servidor LDAP: %w", err)
	}
	conn.SetTimeout(15 * time.Second)

	err = conn.Bind(cfg.Username, cfg.Password)
	if err != nil {
		conn.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "bind failed")
		return nil, fmt.Errorf("falha no bind LDAP: %w", err)
	}
	slog.DebugContext(ctx, "ldap bind ok", "url", url)
	return &Client{conn: conn, baseDN: baseDN}, nil
}

func (c *Client) Close() {
	err := c.conn.Close()
	if err != nil {
		slog.Warn("ldap unbind failed", "err", err)
	}
}

func (c *Client) search(ctx context.Context, filter string, attributes []string) ([]*ldap.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := ldap.NewSearchRequest(
		c.baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		attributes,
		nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

func entryFromLdap(e *ldap.Entry) Entry {
	return Entry{
		DN:           e.DN,
		UID:          e.GetAttributeValue("uid"),
		NomeCompleto: e.GetAttributeValue("nomecompleto"),
		Matricula:    e.GetAttributeValue("matricula"),
		Curso:        e.GetAttributeValue("curso"),
		Semestre:     e.GetAttributeValue("semestre"),
		Siape:        e.GetAttributeValue("siape"),
		Cargo:        e.GetAttributeValue("cargo"),
	}
}

// FindByMatricula looks a person up by matriculation number. The second
// return reports whether an entry with a uid was found.
func (c *Client) FindByMatricula(ctx context.Context, matricula string) (Entry, bool, error) {
	ctx, span := tracer.Start(ctx, "FindByMatricula")
	defer span.End()
	span.SetAttributes(attribute.String("matricula", matricula))

	filter := fmt.Sprintf("(matricula=%s)", ldap.EscapeFilter(matricula))
	entries, err := c.search(ctx, filter, []string{"uid", "nomecompleto"})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.GetAttributeValue("uid") != "" {
			return entryFromLdap(e), true, nil
		}
	}
	return Entry{}, false, nil
}

// FindByFullName returns every entry whose full name matches exactly.
// Callers decide what more than one match means.
func (c *Client) FindByFullName(ctx context.Context, fullName string) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "FindByFullName")
	defer span.End()
	span.SetAttributes(attribute.String("nome", fullName))

	filter := fmt.Sprintf("(nomecompleto=%s)", ldap.EscapeFilter(fullName))
	raw, err := c.search(ctx, filter, []string{
		"uid", "nomecompleto", "matricula", "curso", "semestre", "siape", "cargo",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, entryFromLdap(e))
	}
	span.SetAttributes(attribute.Int("matches", len(entries)))
	return entries, nil
}

// UpdateFields replaces the given attributes on one entry. This is the
// only write this system ever issues against the directory.
func (c *Client) UpdateFields(ctx context.Context, dn string, fields map[string]string) error {
	ctx, span := tracer.Start(ctx, "UpdateFields")
	defer span.End()
	span.SetAttributes(attribute.String("dn", dn))

	if err := ctx.Err(); err != nil {
		return err
	}
	req := ldap.NewModifyRequest(dn, nil)
	for name, value := range fields {
		req.Replace(name, []string{value})
	}
	err := c.conn.Modify(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("falha ao modificar entrada LDAP %s: %w", dn, err)
	}
	slog.InfoContext(ctx, "directory entry updated", "dn", dn)
	return nil
}
