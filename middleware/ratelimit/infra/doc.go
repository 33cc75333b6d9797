// Package infra contém a implementação de token bucket por chave
// (golang.org/x/time/rate) para o contrato domain.LimiterStore.
package infra
