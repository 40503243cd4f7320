// Package domain содержит доменные типы stepflow: определения state machines,
// выполнения, ошибки выполнения и расписания.
//
// Типы не зависят от инфраструктуры и используются всеми остальными пакетами.
package domain
