// Package domain define os contratos do limite por chave que fica na frente da
// API de reservas: chave, ação (escrita ou leitura) e a decisão resultante.
//
// Sem dependência de net/http nem de implementações concretas.
package domain
