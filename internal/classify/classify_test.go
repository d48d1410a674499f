package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"shipsync/internal/models"
	"shipsync/internal/normalize"
)

func TestClassify_Corpus(t *testing.T) {
	cases := []struct {
		text string
		want models.Category
	}{
		{"Entregado", models.CategoryDelivered},
		{"Entregado al destinatario", models.CategoryDelivered},
		{"Entrega efectuada", models.CategoryDelivered},
		{"ENTREGADO EN BUZÓN", models.CategoryDelivered},
		{"En devolución al remitente", models.CategoryFailure},
		{"Dirección incorrecta", models.CategoryFailure},
		{"Destinatario desconocido", models.CategoryFailure},
		{"Intento de entrega", models.CategoryAttemptedDelivery},
		{"No ha sido posible entregar", models.CategoryAttemptedDelivery},
		{"Não foi possível entregar", models.CategoryAttemptedDelivery},
		{"Disponible para recogida", models.CategoryReadyForPickup},
		{"En punto de recogida", models.CategoryReadyForPickup},
		{"En reparto", models.CategoryOutForDelivery},
		{"Saiu para entrega", models.CategoryOutForDelivery},
		{"En ruta de entrega", models.CategoryOutForDelivery},
		{"Pendiente de recepción en CTT Express", models.CategoryConfirmed},
		{"Admitido", models.CategoryConfirmed},
		{"Recogido", models.CategoryConfirmed},
		{"Entrada en red", models.CategoryConfirmed},
		{"En tránsito", models.CategoryInTransit},
		{"Clasificado en plataforma", models.CategoryInTransit},
		{"Salida de delegación origen", models.CategoryInTransit},
		{"Enviado", models.CategoryInTransit},
		// Ambiguous or unknown text maps to none and must not emit.
		{"Aguardando llegada", models.CategoryNone},
		{"Preaviso", models.CategoryNone},
		{"Información recibida", models.CategoryNone},
		{"Estado desconocido xyz", models.CategoryFailure}, // "desconocido" is a failure keyword
		{"", models.CategoryNone},
		{"zzz nothing matches here", models.CategoryNone},
	}
	for _, c := range cases {
		got := Classify(normalize.Text(c.text))
		require.Equal(t, c.want, got, "text %q", c.text)
	}
}

// Precedence: a text matching both a terminal and a transit keyword must take
// the higher-precedence rule.
func TestClassify_Precedence(t *testing.T) {
	// "entregado" (delivered) beats "en ruta" (out_for_delivery).
	require.Equal(t, models.CategoryDelivered, Classify(normalize.Text("Entregado tras salir en ruta")))
	// "entrega fallida" (attempted) beats "en reparto" (out_for_delivery).
	require.Equal(t, models.CategoryAttemptedDelivery, Classify(normalize.Text("Entrega fallida durante el reparto")))
	// "devolucion" (failure) beats "en transito".
	require.Equal(t, models.CategoryFailure, Classify(normalize.Text("En tránsito de devolución")))
}

func TestClassify_Deterministic(t *testing.T) {
	inputs := []string{"Entregado", "En reparto", "Recogido", "???", "Salida de HUB Madrid"}
	for _, in := range inputs {
		n := normalize.Text(in)
		first := Classify(n)
		for i := 0; i < 10; i++ {
			require.Equal(t, first, Classify(n))
		}
	}
}

func TestRules_AreOrderedAndValid(t *testing.T) {
	require.NotEmpty(t, Rules)
	require.Equal(t, models.CategoryDelivered, Rules[0].Category)
	for _, r := range Rules {
		require.True(t, r.Category.Valid())
		require.NotEmpty(t, r.Keywords)
		for _, kw := range r.Keywords {
			// The table itself must already be in normalized form.
			require.Equal(t, normalize.Text(kw), kw, "keyword %q of %s", kw, r.Category)
		}
	}
}
