// Package application contém os casos de uso da alocação de assentos.
//
// Engine serializa Allocate/Release sobre o domain.Pool; Emitter entrega eventos
// de disponibilidade aos assinantes, em ordem de commit, fora da seção exclusiva.
// Nada aqui conhece net/http.
package application
