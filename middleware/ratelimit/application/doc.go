// Package application contém os casos de uso do rate limit e do limite de concorrência
// que protegem a API de reservas.
//
// Ele depende apenas do pacote domain e de internal/slot, e não conhece net/http.
package application
