// Package classify maps normalized carrier status text to a platform status
// category through an ordered rule table. The first rule with any keyword
// occurring as a substring of the text wins; later rules are not consulted.
package classify

import (
	"strings"

	"shipsync/internal/models"
)

type Rule struct {
	Category models.Category
	Keywords []string
}

// Rules is evaluated top-down. Precedence matters: terminal outcomes first so
// that e.g. "entrega fallida" never matches an in-transit keyword, and
// "pendiente de recepcion" is claimed by confirmed before in_transit can see
// "en proceso"-style fragments.
var Rules = []Rule{
	{models.CategoryDelivered, []string{
		"entregado", "entregue", "entrega efectuada", "delivered",
		"entregado ao destinatario", "entregado al destinatario",
		"entregado en buzon", "buzon",
	}},
	{models.CategoryFailure, []string{
		"devolucion", "devolucao", "retorno", "retornado",
		"en devolucion", "devuelto", "devolvido",
		"direccion incorrecta", "destinatario desconocido", "desconocido",
		"rechazado", "recusado",
		"perdido", "extraviado", "danado", "roubado", "robado",
		"incidencia grave", "no entregable",
	}},
	{models.CategoryAttemptedDelivery, []string{
		"intento", "tentativa",
		"ausente", "nao foi possivel entregar",
		"no se pudo entregar", "no ha sido posible entregar",
		"cliente ausente", "destinatario ausente", "destinatario no disponible",
		"no atendido", "no localizado",
		"reparto fallido", "fallo en entrega", "entrega fallida",
	}},
	{models.CategoryReadyForPickup, []string{
		"listo para recoger", "listo p/ recoger", "pronto para levantamento",
		"disponible para recogida", "disponivel para recolha",
		"en punto", "punto de recogida", "ponto de recolha",
		"en tienda", "en oficina", "en delegacion",
		"locker", "parcel shop", "pick up", "pickup",
	}},
	{models.CategoryOutForDelivery, []string{
		"en reparto", "en distribucion",
		"saiu para entrega", "saiu p/ entrega", "em distribuicao",
		"out for delivery", "repartidor", "en ruta de entrega", "en ruta",
		"entrega hoy",
	}},
	{models.CategoryConfirmed, []string{
		"pendiente de recepcion", "recogido",
		"admitido", "admitida",
		"aceptado", "aceite", "aceite pela ctt", "aceite pela rede",
		"registrado", "registado", "recebido", "recebida",
		"entrada en red", "entrada em rede",
		"grabado",
	}},
	{models.CategoryInTransit, []string{
		"en transito", "em transito",
		"en curso", "en proceso",
		"clasificado", "classificado",
		"en plataforma", "hub", "en centro", "en almac", "almacen", "armazem",
		"salida de", "salio de", "saida de", "departed",
		"llegada a", "chegada a", "arrived",
		"enviado",
		"cambio direccion y fecha de entrega",
	}},
}

// Classify expects text already passed through normalize.Text. It returns
// CategoryNone when no rule matches; the caller must not emit an event then.
func Classify(normalized string) models.Category {
	if normalized == "" {
		return models.CategoryNone
	}
	for _, r := range Rules {
		for _, kw := range r.Keywords {
			if strings.Contains(normalized, kw) {
				return r.Category
			}
		}
	}
	return models.CategoryNone
}
