package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"   ":                       "",
		"Entregado":                 "entregado",
		"ENTREGADO AL DESTINATARIO": "entregado al destinatario",
		"En   tránsito":             "en transito",
		"Não foi possível entregar": "nao foi possivel entregar",
		"  Pendiente de recepción en CTT Express  ": "pendiente de recepcion en ctt express",
		"Entrega\tefectuada\n":                      "entrega efectuada",
	}
	for in, want := range cases {
		require.Equal(t, want, Text(in), "input %q", in)
	}
}

func TestText_Idempotent(t *testing.T) {
	inputs := []string{
		"Entregado en buzón",
		"Saiu para entrega",
		"EN REPARTO",
		"Informação recebida",
		"mixed  CASE   with\tspaces",
	}
	for _, in := range inputs {
		once := Text(in)
		require.Equal(t, once, Text(once), "input %q", in)
	}
}
